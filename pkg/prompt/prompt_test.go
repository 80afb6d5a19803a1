package prompt

import (
	"testing"
	"text/template"

	"github.com/shopcompliance/engine/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestBuilder_MatchAssist(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	out, err := b.MatchAssist(model.SubmissionInput{
		ShopName:           "Acme",
		ShopSpecialization: "Electronics",
		PolicyType:         model.PolicyTypeReturns,
		PolicyText:         "Returns accepted within 30 days.",
	}, 0.5)
	require.NoError(t, err)
	require.Contains(t, out, "Acme")
	require.Contains(t, out, "0.5")
	require.Contains(t, out, "Returns accepted within 30 days.")
}

func TestBuilder_ComplianceAnalysis(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	out, err := b.ComplianceAnalysis(model.SubmissionInput{
		ShopName:           "Acme",
		ShopSpecialization: "Electronics",
		PolicyType:         model.PolicyTypeWarranty,
		PolicyText:         "One year warranty on all products.",
	})
	require.NoError(t, err)
	require.Contains(t, out, "warranty")
}

func TestBuilder_PolicyRegeneration(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	out, err := b.PolicyRegeneration(model.SubmissionInput{
		PolicyType: model.PolicyTypeReturns,
		PolicyText: "Returns accepted within 30 days.",
	}, &model.ComplianceReport{OverallComplianceRatio: 72.5})
	require.NoError(t, err)
	require.Contains(t, out, "72.5")
}

func TestBuilder_WithTemplateOverride(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	require.NoError(t, b.WithTemplate(KindMatchAssist, "custom template for {{.ShopName}}"))

	out, err := b.MatchAssist(model.SubmissionInput{ShopName: "Acme"}, 0.4)
	require.NoError(t, err)
	require.Equal(t, "custom template for Acme", out)
}

func TestBuilder_UnknownKindErrors(t *testing.T) {
	b := &Builder{templates: map[Kind]*template.Template{}}
	_, err := b.render("nonexistent", nil)
	require.Error(t, err)
}
