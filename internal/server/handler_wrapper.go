package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/maruel/jcrdb/internal/errors"
)

// Wrap turns fn into an http.Handler speaking JSON.
//
// The request body, when present, is decoded into In; unknown fields are
// rejected. Fields of In tagged `path:"name"` are then filled from the route
// pattern and fields tagged `query:"name"` from the query string. Supported
// field kinds are string, int and bool. Embedded structs are walked.
//
//	type PathRequest struct {
//	    Path string `path:"path"`
//	}
//
//	func (h *NodeHandler) GetNode(ctx context.Context, req PathRequest) (*Node, error)
func Wrap[In any, Out any](fn func(context.Context, In) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var in In
		if err := decodeBody(r, &in); err != nil {
			writeError(ctx, w, err)
			return
		}
		if err := bind(r, reflect.ValueOf(&in).Elem()); err != nil {
			writeError(ctx, w, err)
			return
		}
		out, err := fn(ctx, in)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, out)
	})
}

func decodeBody(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	d := json.NewDecoder(r.Body)
	d.DisallowUnknownFields()
	switch err := d.Decode(v); {
	case err == nil, err == io.EOF:
		return nil
	default:
		return errors.BadRequest("invalid request body: " + err.Error()).Wrap(err)
	}
}

// bind fills the `path` and `query` tagged fields of the struct v.
func bind(r *http.Request, v reflect.Value) error {
	if v.Kind() != reflect.Struct {
		return nil
	}
	query := r.URL.Query()
	t := v.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			if err := bind(r, v.Field(i)); err != nil {
				return err
			}
			continue
		}
		var s string
		if name := f.Tag.Get("path"); name != "" {
			s = r.PathValue(name)
		} else if name := f.Tag.Get("query"); name != "" {
			s = query.Get(name)
		}
		if s == "" {
			continue
		}
		if err := setParam(v.Field(i), s); err != nil {
			return errors.BadRequest("invalid parameter " + f.Name + ": " + err.Error())
		}
	}
	return nil
}

func setParam(v reflect.Value, s string) error {
	//nolint:exhaustive // Parameters are strings, ints or bools.
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Int:
		i, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		v.SetInt(int64(i))
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	}
	return nil
}

type errorBody struct {
	Error struct {
		Code    errors.ErrorCode `json:"code"`
		Message string           `json:"message"`
	} `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError reports err with the status and code of the most specific
// error of its chain. Errors outside the taxonomy are repository errors.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var body errorBody
	body.Error.Code = errors.ErrRepository
	body.Error.Message = err.Error()
	if c := errors.Cause(err); c != nil {
		status = c.StatusCode()
		body.Error.Code = c.Code()
		body.Details = c.Details()
	}
	log := slog.DebugContext
	if status >= http.StatusInternalServerError {
		log = slog.ErrorContext
	}
	log(ctx, "Request failed", "status", status, "code", body.Error.Code, "err", err)
	writeJSON(ctx, w, status, &body)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.DebugContext(ctx, "Failed to write response", "err", err)
	}
}
