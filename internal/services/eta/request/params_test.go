package request

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/louisbranch/eta/internal/services/eta/mvc"
)

func TestParseValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  mvc.Params
	}{
		{name: "json number", query: "n=5", want: mvc.Params{"n": 5}},
		{name: "json float", query: "f=1.5", want: mvc.Params{"f": 1.5}},
		{name: "plain string", query: "s=hello", want: mvc.Params{"s": "hello"}},
		{name: "json bool", query: "b=true", want: mvc.Params{"b": true}},
		{name: "json object", query: "j=" + url.QueryEscape(`{"a":1}`), want: mvc.Params{"j": map[string]any{"a": 1}}},
		{name: "leading zero stays string", query: "zip=007", want: mvc.Params{"zip": "007"}},
		{name: "nested brackets", query: "a[b][c]=1", want: mvc.Params{"a": map[string]any{"b": map[string]any{"c": "1"}}}},
		{name: "indexed array", query: "list[0]=x&list[1]=y", want: mvc.Params{"list": []any{"x", "y"}}},
		{name: "sparse array", query: "s[2]=z", want: mvc.Params{"s": []any{nil, nil, "z"}}},
		{name: "huge index stays map", query: "big[5000]=z", want: mvc.Params{"big": map[string]any{"5000": "z"}}},
		{name: "mixed keys stay map", query: "m[0]=a&m[x]=b", want: mvc.Params{"m": map[string]any{"0": "a", "x": "b"}}},
		{name: "empty brackets collect", query: "tags[]=a&tags[]=b", want: mvc.Params{"tags": []any{"a", "b"}}},
		{name: "padded index stays map", query: "a[1]=x&a[01]=y", want: mvc.Params{"a": map[string]any{"1": "x", "01": "y"}}},
		{name: "plain key wins over brackets", query: "b=5&b[c]=z", want: mvc.Params{"b": 5}},
		{name: "nested value kept", query: "p[q]=1&p[q][r]=2", want: mvc.Params{"p": map[string]any{"q": "1"}}},
		{name: "nested array of objects", query: "rows[0][id]=1&rows[1][id]=2", want: mvc.Params{"rows": []any{map[string]any{"id": "1"}, map[string]any{"id": "2"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			values, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}
			if got := ParseValues(values); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("params = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeParams(t *testing.T) {
	t.Parallel()

	t.Run("query for GET", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/posts/index?page=2", nil)
		params, err := DecodeParams(req)
		if err != nil || params["page"] != 2 {
			t.Fatalf("params=%v err=%v", params, err)
		}
	})

	t.Run("form body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/posts/create?ignored=1", strings.NewReader("title=Hi&meta[tag]=go"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		params, err := DecodeParams(req)
		if err != nil {
			t.Fatalf("DecodeParams: %v", err)
		}
		want := mvc.Params{"title": "Hi", "meta": map[string]any{"tag": "go"}}
		if !reflect.DeepEqual(params, want) {
			t.Fatalf("params = %#v", params)
		}
	})

	t.Run("json body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/posts/update", strings.NewReader(`{"id": 3, "tags": ["a"]}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		params, err := DecodeParams(req)
		if err != nil {
			t.Fatalf("DecodeParams: %v", err)
		}
		want := mvc.Params{"id": 3, "tags": []any{"a"}}
		if !reflect.DeepEqual(params, want) {
			t.Fatalf("params = %#v", params)
		}
	})

	t.Run("invalid json body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/posts/create", strings.NewReader(`{`))
		req.Header.Set("Content-Type", "application/json")
		if _, err := DecodeParams(req); err == nil {
			t.Fatal("expected error")
		}
	})
}
