package imagegen

import (
	"encoding/json"
	"fmt"
	"strings"

	"fluxgen/internal/domain"
)

// ExtractError names the level of the result document that did not have the
// expected shape.
type ExtractError struct {
	Path   string
	Reason string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("imagegen: %s: %s", e.Path, e.Reason)
}

func (e *ExtractError) Unwrap() error {
	return domain.ErrUnparseableResult
}

// ExtractImageURL reads result.output.images[0].url from a result document.
func ExtractImageURL(raw []byte) (string, error) {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return "", &ExtractError{Path: "$", Reason: "invalid json"}
	}
	result, err := field(root, "$", "result")
	if err != nil {
		return "", err
	}
	output, err := field(result, "result", "output")
	if err != nil {
		return "", err
	}
	imagesNode, err := field(output, "result.output", "images")
	if err != nil {
		return "", err
	}
	images, ok := imagesNode.([]any)
	if !ok {
		return "", &ExtractError{Path: "result.output.images", Reason: "expected array, got " + kind(imagesNode)}
	}
	if len(images) == 0 {
		return "", &ExtractError{Path: "result.output.images", Reason: "empty array"}
	}
	urlNode, err := field(images[0], "result.output.images[0]", "url")
	if err != nil {
		return "", err
	}
	url, ok := urlNode.(string)
	if !ok {
		return "", &ExtractError{Path: "result.output.images[0].url", Reason: "expected string, got " + kind(urlNode)}
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return "", &ExtractError{Path: "result.output.images[0].url", Reason: "empty string"}
	}
	return url, nil
}

func field(node any, path, key string) (any, error) {
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, &ExtractError{Path: path, Reason: "expected object, got " + kind(node)}
	}
	value, ok := obj[key]
	if !ok {
		return nil, &ExtractError{Path: joinPath(path, key), Reason: "missing"}
	}
	return value, nil
}

func joinPath(path, key string) string {
	if path == "$" {
		return key
	}
	return path + "." + key
}

func kind(node any) string {
	switch node.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", node)
	}
}
