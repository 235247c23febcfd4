package diagnostic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_ProjectsAndPreservesPayload(t *testing.T) {
	payload := `{"id":"d1","patientId":"p1","diagnostic":"flu","severity":{"level":3}}`

	var r Record
	require.NoError(t, json.Unmarshal([]byte(payload), &r))

	assert.Equal(t, "d1", r.ID)
	assert.Equal(t, "p1", r.PatientID)

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(out), "unknown fields survive the round trip untouched")
}

func TestRecord_NumericIDsKeepLiteralText(t *testing.T) {
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":12345678901234567890,"patientId":42}`), &r))

	assert.Equal(t, "12345678901234567890", r.ID)
	assert.Equal(t, "42", r.PatientID)
}

func TestRecord_MissingAndNullPatientID(t *testing.T) {
	var withNull Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"d1","patientId":null}`), &withNull))
	assert.Empty(t, withNull.PatientID)

	var absent Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"d2"}`), &absent))
	assert.Empty(t, absent.PatientID)
}

func TestIdentity_ProjectsFields(t *testing.T) {
	payload := `{"id":"u1","fullname":"Ana García","role":"patient","email":"ana@example.com"}`

	var i Identity
	require.NoError(t, json.Unmarshal([]byte(payload), &i))

	assert.Equal(t, "u1", i.ID)
	assert.Equal(t, "Ana García", i.Fullname)
	assert.Equal(t, "patient", i.Role)

	out, err := json.Marshal(i)
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(out))
}

func TestEnrichedResult_Shape(t *testing.T) {
	var i Identity
	require.NoError(t, json.Unmarshal([]byte(`{"id":"u1","fullname":"Ana"}`), &i))
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"d1","patientId":"u1"}`), &r))

	out, err := json.Marshal(EnrichedResult{Patient: i, Diagnostics: []Record{r}})
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"patient":{"id":"u1","fullname":"Ana"},"diagnostics":[{"id":"d1","patientId":"u1"}]}`,
		string(out),
	)
}
