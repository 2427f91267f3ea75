package models

import (
	"bytes"
	"encoding/json"

	"lightapi/router/pkg/routererr"
)

// RewriteModel replaces the top-level "model" field of a JSON body through
// the mapping. All other fields keep their values and number formatting, but
// a rewritten body is re-encoded: keys come out sorted, whitespace inside
// values is dropped, and <, > and & in strings are written as Unicode
// escapes. Bodies whose model is not in the mapping (or that have no model
// field) are returned byte-identical, so applying the mapping twice equals
// applying it once.
func RewriteModel(body []byte, mapping map[string]string) ([]byte, error) {
	if len(mapping) == 0 {
		return body, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, routererr.Wrap(routererr.KindJSON, "invalid JSON body", err)
	}

	rawModel, ok := fields["model"]
	if !ok {
		return body, nil
	}
	var model string
	if err := json.Unmarshal(rawModel, &model); err != nil {
		return body, nil
	}
	mapped, ok := mapping[model]
	if !ok || mapped == model {
		return body, nil
	}

	encodedModel, err := json.Marshal(mapped)
	if err != nil {
		return nil, routererr.Wrap(routererr.KindJSON, "encode model name", err)
	}
	fields["model"] = encodedModel

	rewritten, err := json.Marshal(fields)
	if err != nil {
		return nil, routererr.Wrap(routererr.KindJSON, "encode request body", err)
	}
	return rewritten, nil
}

var (
	multipartModelMarker = []byte(`name="model"`)
	multipartSeparator   = []byte("\r\n\r\n")
	multipartLineEnd     = []byte("\r\n")
)

// RewriteMultipartModel replaces the value of the "model" form field inside
// a multipart body through the mapping, leaving every other byte untouched.
// Bodies without a model part are returned unchanged.
func RewriteMultipartModel(body []byte, mapping map[string]string) []byte {
	if len(mapping) == 0 {
		return body
	}
	start, end, ok := multipartModelBounds(body)
	if !ok {
		return body
	}
	model := string(body[start:end])
	mapped, found := mapping[model]
	if !found || mapped == model {
		return body
	}

	rewritten := make([]byte, 0, len(body)-(end-start)+len(mapped))
	rewritten = append(rewritten, body[:start]...)
	rewritten = append(rewritten, mapped...)
	rewritten = append(rewritten, body[end:]...)
	return rewritten
}

// multipartModelBounds locates the value bytes of the model form field.
func multipartModelBounds(body []byte) (int, int, bool) {
	markerIndex := bytes.Index(body, multipartModelMarker)
	if markerIndex < 0 {
		return 0, 0, false
	}
	afterMarker := markerIndex + len(multipartModelMarker)
	separatorIndex := bytes.Index(body[afterMarker:], multipartSeparator)
	if separatorIndex < 0 {
		return 0, 0, false
	}
	valueStart := afterMarker + separatorIndex + len(multipartSeparator)
	valueLength := bytes.Index(body[valueStart:], multipartLineEnd)
	if valueLength < 0 {
		valueLength = len(body) - valueStart
	}
	return valueStart, valueStart + valueLength, true
}
