package request

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/louisbranch/eta/internal/services/eta/mvc"
)

const (
	maxBodyBytes = 10 << 20
	// maxArrayGap bounds the length of arrays built from numeric keys.
	maxArrayGap = 1000
)

// DecodeParams reads the query (GET) or body (other methods) of r.
func DecodeParams(r *http.Request) (mvc.Params, error) {
	if r.Method == http.MethodGet {
		return ParseValues(r.URL.Query()), nil
	}
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch contentType {
	case "application/json":
		return decodeJSONBody(r)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
		return ParseValues(r.MultipartForm.Value), nil
	default:
		if r.Body == nil {
			return mvc.Params{}, nil
		}
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		return ParseValues(r.PostForm), nil
	}
}

func decodeJSONBody(r *http.Request) (mvc.Params, error) {
	if r.Body == nil {
		return mvc.Params{}, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return mvc.Params{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("decode json body: %w", err)
	}
	for key, value := range params {
		params[key] = normalize(value)
	}
	return mvc.Params(params), nil
}

// ParseValues decodes form values. Plain keys hold JSON-decoded values,
// falling back to the raw string. Bracket keys (a[b][c]) build nested maps
// of raw strings, and a map whose keys are all indexes becomes an array.
// A trailing [] collects every value of the key.
func ParseValues(values url.Values) mvc.Params {
	params := mvc.Params{}
	var bracketKeys []string
	for _, key := range slices.Sorted(maps.Keys(values)) {
		raw := values[key]
		if len(raw) == 0 {
			continue
		}
		switch {
		case strings.HasSuffix(key, "[]") && !strings.Contains(strings.TrimSuffix(key, "[]"), "["):
			params[strings.TrimSuffix(key, "[]")] = stringsToAny(raw)
		case strings.Contains(key, "["):
			bracketKeys = append(bracketKeys, key)
		default:
			params[key] = parseValue(raw[0])
		}
	}

	roots := map[string]bool{}
	for _, key := range bracketKeys {
		raw := values[key]
		var value any = raw[0]
		if strings.HasSuffix(key, "[]") {
			key = strings.TrimSuffix(key, "[]")
			value = stringsToAny(raw)
		}
		roots[setNested(params, key, value)] = true
	}
	for root := range roots {
		params[root] = toArrays(params[root])
	}
	return params
}

func stringsToAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, value := range values {
		out = append(out, value)
	}
	return out
}

func parseValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return normalize(value)
}

// setNested stores value at the path of a bracket key and returns the root.
// A path running through a value that is not a map is dropped, so a plain
// key keeps its value.
func setNested(params mvc.Params, key string, value any) string {
	tokens := strings.Split(key, "[")
	keys := make([]string, 0, len(tokens))
	keys = append(keys, tokens[0])
	for _, token := range tokens[1:] {
		keys = append(keys, strings.TrimSuffix(token, "]"))
	}
	current := map[string]any(params)
	for _, k := range keys[:len(keys)-1] {
		existing, found := current[k]
		if !found {
			next := map[string]any{}
			current[k] = next
			current = next
			continue
		}
		next, ok := existing.(map[string]any)
		if !ok {
			return keys[0]
		}
		current = next
	}
	last := keys[len(keys)-1]
	if _, isMap := current[last].(map[string]any); isMap {
		return keys[0]
	}
	current[last] = value
	return keys[0]
}

func toArrays(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	for key, item := range m {
		m[key] = toArrays(item)
	}
	maxIndex := -1
	for key := range m {
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 || strconv.Itoa(index) != key {
			return m
		}
		maxIndex = max(maxIndex, index)
	}
	if maxIndex >= len(m)+maxArrayGap {
		return m
	}
	arr := make([]any, maxIndex+1)
	for key, item := range m {
		index, _ := strconv.Atoi(key)
		arr[index] = item
	}
	return arr
}

// normalize turns whole JSON numbers into ints.
func normalize(value any) any {
	switch v := value.(type) {
	case float64:
		if v == math.Trunc(v) && math.Abs(v) <= math.MaxInt32 {
			return int(v)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalize(item)
		}
		return v
	case map[string]any:
		for key, item := range v {
			v[key] = normalize(item)
		}
		return v
	}
	return value
}
