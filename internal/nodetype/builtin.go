package nodetype

import "github.com/maruel/jcrdb/internal/jcr"

// builtins are the declared (not inherited) definitions of the standard
// types.
var builtins = []jcr.NodeType{
	{
		Name: jcr.TypeBase,
		Properties: []jcr.PropertyDefinition{
			{Name: jcr.PropPrimaryType, RequiredType: jcr.Name, Mandatory: true, AutoCreated: true, Protected: true},
			{Name: jcr.PropMixinTypes, RequiredType: jcr.Name, Multiple: true, Protected: true},
		},
	},
	{
		Name:       jcr.TypeUnstructured,
		Supertypes: []string{jcr.TypeBase},
		Properties: []jcr.PropertyDefinition{{Name: jcr.ResidualItemName, RequiredType: jcr.Undefined}},
		Children:   []jcr.NodeDefinition{{Name: jcr.ResidualItemName, RequiredTypes: []string{jcr.TypeBase}, DefaultPrimaryType: jcr.TypeUnstructured}},
	},
	{
		Name:       "nt:hierarchyNode",
		Supertypes: []string{jcr.TypeBase, jcr.MixCreated},
	},
	{
		Name:       jcr.TypeFolder,
		Supertypes: []string{"nt:hierarchyNode"},
		Children:   []jcr.NodeDefinition{{Name: jcr.ResidualItemName, RequiredTypes: []string{"nt:hierarchyNode"}}},
	},
	{
		Name:       jcr.TypeFile,
		Supertypes: []string{"nt:hierarchyNode"},
		Children:   []jcr.NodeDefinition{{Name: "jcr:content", RequiredTypes: []string{jcr.TypeBase}, Mandatory: true}},
	},
	{
		Name:       jcr.TypeResource,
		Supertypes: []string{jcr.TypeBase, "mix:mimeType", jcr.MixLastModified},
		Properties: []jcr.PropertyDefinition{{Name: "jcr:data", RequiredType: jcr.Binary, Mandatory: true}},
	},
	{
		Name:    jcr.MixReferenceable,
		IsMixin: true,
		Properties: []jcr.PropertyDefinition{
			{Name: jcr.PropUUID, RequiredType: jcr.String, Mandatory: true, AutoCreated: true, Protected: true},
		},
	},
	{
		Name:    jcr.MixCreated,
		IsMixin: true,
		Properties: []jcr.PropertyDefinition{
			{Name: jcr.PropCreated, RequiredType: jcr.Date, AutoCreated: true, Protected: true},
			{Name: jcr.PropCreatedBy, RequiredType: jcr.String, AutoCreated: true, Protected: true},
		},
	},
	{
		Name:    jcr.MixLastModified,
		IsMixin: true,
		Properties: []jcr.PropertyDefinition{
			{Name: jcr.PropLastModified, RequiredType: jcr.Date, AutoCreated: true},
			{Name: jcr.PropLastModifiedBy, RequiredType: jcr.String, AutoCreated: true},
		},
	},
	{
		Name:    jcr.MixETag,
		IsMixin: true,
		Properties: []jcr.PropertyDefinition{
			{Name: jcr.PropETag, RequiredType: jcr.String, AutoCreated: true, Protected: true},
		},
	},
	{
		Name:    jcr.MixTitle,
		IsMixin: true,
		Properties: []jcr.PropertyDefinition{
			{Name: "jcr:title", RequiredType: jcr.String},
			{Name: "jcr:description", RequiredType: jcr.String},
		},
	},
	{
		Name:    "mix:mimeType",
		IsMixin: true,
		Properties: []jcr.PropertyDefinition{
			{Name: "jcr:mimeType", RequiredType: jcr.String},
			{Name: "jcr:encoding", RequiredType: jcr.String},
		},
	},
	{
		Name:    "mix:language",
		IsMixin: true,
		Properties: []jcr.PropertyDefinition{
			{Name: "jcr:language", RequiredType: jcr.String},
		},
	},
}
