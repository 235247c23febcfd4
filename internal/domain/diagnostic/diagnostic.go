package diagnostic

import (
	"bytes"
	"encoding/json"
	"io"
)

// Record is a diagnostic as returned by the diagnostic service. The payload is
// opaque to this service except for the id and patientId fields; the raw body
// is kept so responses re-emit the record exactly as received.
type Record struct {
	ID        string
	PatientID string
	Raw       json.RawMessage
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var probe struct {
		ID        json.RawMessage `json:"id"`
		PatientID json.RawMessage `json:"patientId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	r.ID = rawString(probe.ID)
	r.PatientID = rawString(probe.PatientID)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	return []byte("null"), nil
}

// Identity is a user as returned by the identity service, projected down to
// the fields the aggregation pipeline reads.
type Identity struct {
	ID       string
	Fullname string
	Role     string
	Raw      json.RawMessage
}

func (i *Identity) UnmarshalJSON(data []byte) error {
	var probe struct {
		ID       json.RawMessage `json:"id"`
		Fullname string          `json:"fullname"`
		Role     string          `json:"role"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	i.ID = rawString(probe.ID)
	i.Fullname = probe.Fullname
	i.Role = probe.Role
	i.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (i Identity) MarshalJSON() ([]byte, error) {
	if len(i.Raw) > 0 {
		return i.Raw, nil
	}
	return []byte("null"), nil
}

// EnrichedResult joins one patient identity with every diagnostic that
// references it. All diagnostics share PatientID == Patient.ID.
type EnrichedResult struct {
	Patient     Identity `json:"patient"`
	Diagnostics []Record `json:"diagnostics"`
}

// FileUpload describes one inbound multipart file part. Open returns a fresh
// reader over the part's content; the orchestrator stages it to disk before
// forwarding.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// rawString normalizes a JSON scalar to its string form: quoted strings are
// unquoted, numbers keep their literal text, null and absent become "".
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	return string(raw)
}
