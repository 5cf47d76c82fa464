package tmplenv

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/mmlt/kubectl-yamlop/pkg/secrets"
	"github.com/mmlt/kubectl-yamlop/pkg/util/yamlx"
	"github.com/stretchr/testify/assert"
)

func TestGoTemplate_FromString(t *testing.T) {
	tests := []struct {
		it      string
		environ []string
		doc     string
		fields  map[string]interface{}
		want    string
	}{
		{
			it:     "can_use_a_field",
			doc:    `key: {{ .val }}`,
			fields: map[string]interface{}{"val": 5},
			want:   "key: 5",
		},
		{
			it:  "can_use_key_containing_dash",
			doc: `{{ index . "dash-ed" "name" }}`,
			fields: map[string]interface{}{
				"dash-ed": map[string]interface{}{
					"name": "peppers",
				},
			},
			want: "peppers",
		},
		{
			it:  "can_use_indexOrDefault_to_lookup_name",
			doc: `{{ indexOrDefault "default" .values "dash-ed" "name" }}`,
			fields: map[string]interface{}{
				"values": yamlx.Values{
					"dash-ed": map[string]interface{}{
						"name": "peppers",
					},
				},
			},
			want: "peppers",
		},
		{
			it:  "returns_default_when_element_is_not_found",
			doc: `{{ indexOrDefault "default" .values "does" "not" "exist" }}`,
			fields: map[string]interface{}{
				"values": yamlx.Values{"dash-ed": "x"},
			},
			want: "default",
		},
		{
			it:     "returns_default_when_value_is_nil_and_no_path_is_given",
			doc:    `{{ indexOrDefault "default" .values }}`,
			fields: map[string]interface{}{"values": yamlx.Values(nil)},
			want:   "default",
		},
		{
			it:     "honours_escape_chars_in_default",
			doc:    `{{ indexOrDefault "\"\"" .values "does" "not" "exist" }}`,
			fields: map[string]interface{}{"values": yamlx.Values{}},
			want:   "\"\"",
		},
		{
			it:      "can_read_sanitized_environment",
			environ: []string{"HOME=/home/pipo", "broken"},
			doc:     `{{ env "HOME" }}|{{ expandenv "$HOME" }}`,
			want:    "/home/pipo|<expandenv is not supported>",
		},
		{
			it:     "can_convert_to_yaml",
			doc:    `{{ toYaml .team }}`,
			fields: map[string]interface{}{"team": map[string]interface{}{"lead": "pipo"}},
			want:   "lead: pipo",
		},
		{
			it:     "can_use_sprig_functions",
			doc:    `{{ .name | upper | quote }}`,
			fields: map[string]interface{}{"name": "pipo"},
			want:   `"PIPO"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.it, func(t *testing.T) {
			env, err := NewGoTemplate(nil, WithEnviron(tt.environ))
			if !assert.NoError(t, err) {
				return
			}
			tmpl, err := env.FromString(tt.doc)
			if !assert.NoError(t, err) {
				return
			}
			got, err := tmpl.Render(tt.fields)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGoTemplate_Errors(t *testing.T) {
	env, err := NewGoTemplate([]string{"testdata/templates"})
	if !assert.NoError(t, err) {
		return
	}

	t.Run("should_return_syntax_error_on_malformed_markup", func(t *testing.T) {
		_, err := env.FromString(`key: {{ .val `)
		var se *SyntaxError
		assert.True(t, errors.As(err, &se), "got %v", err)
	})

	t.Run("should_fail_on_missing_field", func(t *testing.T) {
		tmpl, err := env.FromString(`key: {{ .val }}`)
		if assert.NoError(t, err) {
			_, err = tmpl.Render(nil)
			assert.Error(t, err)
		}
	})

	t.Run("should_report_not_exist_for_unknown_template", func(t *testing.T) {
		_, err := env.GetTemplate("nope.yaml")
		assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
	})
}

func TestGoTemplate_Vault(t *testing.T) {
	env, err := NewGoTemplate(nil, WithSecrets(secrets.File{"db": `{"password":"pw"}`}))
	if !assert.NoError(t, err) {
		return
	}
	tmpl, err := env.FromString(`password: {{ vault "db" "password" }}`)
	if assert.NoError(t, err) {
		got, err := tmpl.Render(nil)
		assert.NoError(t, err)
		assert.Equal(t, "password: pw", got)
	}
}
