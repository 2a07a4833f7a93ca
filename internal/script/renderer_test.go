package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/power-dialer/internal/domain"
)

func TestRenderFillsContactFields(t *testing.T) {
	r := NewRenderer()
	c := domain.Contact{
		Name:         "Ada Lovelace",
		Organization: "Analytical Engines",
		Phones:       []string{"+15550100001", "+15550100002"},
		DialAttempts: 1,
		Properties:   map[string]any{"product": "looms", "seats": 12},
	}

	out, err := r.Render(`Hi {{ first .Name }} at {{ .Organization }} ({{ .Phone }}), about {{ prop .Properties "product" }} x{{ prop .Properties "seats" }}.`, c)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada at Analytical Engines (+15550100002), about looms x12.", out)
}

func TestRenderDefaultsMissingProperty(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render(`{{ prop .Properties "product" | default "our product" }}`, domain.Contact{})
	require.NoError(t, err)
	assert.Equal(t, "our product", out)
}

func TestRenderIsRepeatable(t *testing.T) {
	r := NewRenderer()
	tmpl := `{{ upper .Name }}`

	first, err := r.Render(tmpl, domain.Contact{Name: "grace"})
	require.NoError(t, err)
	second, err := r.Render(tmpl, domain.Contact{Name: "alan"})
	require.NoError(t, err)

	assert.Equal(t, "GRACE", first)
	assert.Equal(t, "ALAN", second)
}

func TestRenderRejectsBadTemplate(t *testing.T) {
	_, err := NewRenderer().Render(`{{ .Name `, domain.Contact{})
	require.ErrorContains(t, err, "script: parse")
}

func TestRenderEmptyTemplate(t *testing.T) {
	out, err := NewRenderer().Render("", domain.Contact{Name: "x"})
	require.NoError(t, err)
	assert.Empty(t, out)
}
