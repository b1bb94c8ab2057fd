package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
)

func TestFilterMatches(t *testing.T) {
	at := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	entry := Entry{
		Outcome:         OutcomeGranted,
		DisclosedFields: []string{"bloodType", "allergies"},
		Timestamp:       at,
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"inside range", Filter{From: at.Add(-time.Hour), To: at.Add(time.Hour)}, true},
		{"to is exclusive", Filter{To: at}, false},
		{"before from", Filter{From: at.Add(time.Second)}, false},
		{"outcome match", Filter{Outcomes: []Outcome{OutcomeDeniedRevoked, OutcomeGranted}}, true},
		{"outcome mismatch", Filter{Outcomes: []Outcome{OutcomeDeniedRevoked}}, false},
		{"query case-insensitive", Filter{Query: "BLOOD"}, true},
		{"query miss", Filter{Query: "insurance"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(entry))
		})
	}
}

func TestCursorEncoding(t *testing.T) {
	c := &Cursor{At: time.Date(2026, 2, 10, 8, 0, 0, 123000, time.UTC), ID: id.NewAuditEntryID()}
	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, c.At.Equal(decoded.At))
	assert.Equal(t, c.ID, decoded.ID)

	empty, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = DecodeCursor("%%%")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestCursorOrdering(t *testing.T) {
	at := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	first := Entry{ID: id.NewAuditEntryID(), Timestamp: at}
	second := Entry{ID: id.NewAuditEntryID(), Timestamp: at}
	older := Entry{ID: id.NewAuditEntryID(), Timestamp: at.Add(-time.Second)}

	c := CursorOf(second)
	assert.True(t, c.Before(first), "same timestamp, smaller id comes later")
	assert.True(t, c.Before(older))
	assert.False(t, c.Before(second))

	var none *Cursor
	assert.True(t, none.Before(first))
}

func TestFieldTiersEncoding(t *testing.T) {
	pairs := EncodeFieldTiers(map[string]string{"bloodType": "public", "allergies": "protected"})
	assert.Equal(t, []string{"allergies:protected", "bloodType:public"}, pairs)
	assert.Equal(t, map[string]string{"bloodType": "public", "allergies": "protected"}, DecodeFieldTiers(pairs))
	assert.Nil(t, DecodeFieldTiers(nil))
}
