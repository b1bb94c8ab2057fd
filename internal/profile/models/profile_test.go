package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifetag/internal/policy"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
)

func newTestProfile(t *testing.T) *Profile {
	t.Helper()
	p, err := NewProfile(id.NewProfileID(), id.AccountID(uuid.New()), time.Now())
	require.NoError(t, err)
	return p
}

func TestSetField(t *testing.T) {
	p := newTestProfile(t)
	now := time.Now()

	require.NoError(t, p.SetField("bloodType", "AB+", policy.TierPublic, now))
	value, ok := p.FieldValue("bloodType")
	assert.True(t, ok)
	assert.Equal(t, "AB+", value)

	err := p.SetField("blood type", "AB+", policy.TierPublic, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	err = p.SetField("notes", "x", policy.Tier("secret"), now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	require.NoError(t, p.SetField("bloodType", "AB+", policy.TierPrivate, now))
	assert.Equal(t, policy.TierPrivate, p.FieldTiers()["bloodType"])
}

func TestSetContacts(t *testing.T) {
	p := newTestProfile(t)
	now := time.Now()

	err := p.SetContacts([]Contact{
		{Name: " Ana ", Kind: ContactEmail, Address: "ana@example.com", AccessAlerts: true},
		{Name: "Ben", Kind: ContactSMS, Address: "+15550100"},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Contacts[0].Name)
	require.Len(t, p.AlertContacts(), 1)
	assert.Equal(t, "ana@example.com", p.AlertContacts()[0].Address)

	err = p.SetContacts([]Contact{{Name: "X", Kind: "pager", Address: "1"}}, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestCloneIsDeep(t *testing.T) {
	p := newTestProfile(t)
	require.NoError(t, p.SetField("allergies", "latex", policy.TierPublic, time.Now()))

	cp := p.Clone()
	require.NoError(t, cp.SetField("allergies", "none", policy.TierPublic, time.Now()))

	value, _ := p.FieldValue("allergies")
	assert.Equal(t, "latex", value)
}
