package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetailsRoundTrip(t *testing.T) {
	inputs := []map[string]any{
		{"patient_name": "Alice", "drugs": "Amoxicillin 500mg"},
		{"dosage": "2x daily", "notes": ""},
		{"nested": map[string]any{"bp": "120/80"}},
	}

	for _, fields := range inputs {
		d := StructuredDetails(fields)
		decoded := DecodeDetails(EncodeDetails(d))
		assert.True(t, decoded.IsStructured())
		assert.Equal(t, fields, decoded.Structured)
	}
}

func TestDecodeDetailsNeverFails(t *testing.T) {
	cases := []string{
		"",
		"plain free text from the model",
		"{not valid json",
		`["a", "json", "array"]`,
		"{\"truncated\": ",
	}

	for _, in := range cases {
		d := DecodeDetails(in)
		assert.False(t, d.IsStructured())
		assert.Equal(t, in, d.Raw)
	}
}

func TestDecodeDetailsStructured(t *testing.T) {
	d := DecodeDetails(`{"patient_name": "Bob", "drugs": ["Ibuprofen"]}`)
	assert.True(t, d.IsStructured())
	assert.Equal(t, "Bob", d.Structured["patient_name"])
}

func TestRawRoundTripsThroughFields(t *testing.T) {
	r := PrescriptionRecord{
		ContentHash: "abc123",
		Filename:    "scan.jpg",
		PatientID:   "alice",
		Details:     RawText("illegible handwriting"),
	}

	back := FromFields(ToFields(r))
	assert.Equal(t, r, back)
}
