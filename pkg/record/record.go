// Package record defines the prescription data model and the serialization
// boundary between the archive and its consumers. A record's identity is the
// content hash of the source image; everything else is display data.
package record

// PrescriptionRecord is one processed prescription image. It is created once
// by the ingestion pipeline at first successful extraction and never mutated
// afterwards.
type PrescriptionRecord struct {
	ContentHash string  `json:"content_hash"`
	Filename    string  `json:"filename"`
	PatientID   string  `json:"patient_id"`
	Details     Details `json:"details"`
}

// Fields is the flat field mapping stored under a content hash. All values
// are strings; Details carries the string-serialized extraction payload.
type Fields struct {
	Filename    string `json:"filename"`
	Hash        string `json:"hash"`
	PatientName string `json:"patient_name"`
	Details     string `json:"details"`
}

// FromFields reconstructs a typed record from its stored field mapping.
// Details decoding is best-effort: payloads that are not well-formed JSON
// objects come back as raw text.
func FromFields(f Fields) PrescriptionRecord {
	return PrescriptionRecord{
		ContentHash: f.Hash,
		Filename:    f.Filename,
		PatientID:   f.PatientName,
		Details:     DecodeDetails(f.Details),
	}
}

// ToFields flattens a record into its stored field mapping.
func ToFields(r PrescriptionRecord) Fields {
	return Fields{
		Filename:    r.Filename,
		Hash:        r.ContentHash,
		PatientName: r.PatientID,
		Details:     EncodeDetails(r.Details),
	}
}
