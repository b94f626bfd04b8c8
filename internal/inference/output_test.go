package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseJobState(t *testing.T) {
	t.Run("ArrayOfURLs", func(t *testing.T) {
		raw := []byte(`{"status":"succeeded","output":["https://cdn/a.png","https://cdn/b.png"]}`)
		state := ParseJobState(raw)
		assert.Equal(t, JobSucceeded, state.Status)
		assert.Equal(t, []string{"https://cdn/a.png", "https://cdn/b.png"}, state.Outputs)
	})

	t.Run("SingleStringOutput", func(t *testing.T) {
		raw := []byte(`{"status":"succeeded","output":"https://cdn/a.png"}`)
		state := ParseJobState(raw)
		assert.Equal(t, []string{"https://cdn/a.png"}, state.Outputs)
	})

	t.Run("ObjectWithURLField", func(t *testing.T) {
		raw := []byte(`{"status":"succeeded","output":{"url":"https://cdn/a.png"}}`)
		state := ParseJobState(raw)
		assert.Equal(t, []string{"https://cdn/a.png"}, state.Outputs)
	})

	t.Run("ArrayOfObjectsWithImageField", func(t *testing.T) {
		raw := []byte(`{"status":"succeeded","output":[{"image":"https://cdn/a.png"},{"image":"https://cdn/b.png"}]}`)
		state := ParseJobState(raw)
		assert.Equal(t, []string{"https://cdn/a.png", "https://cdn/b.png"}, state.Outputs)
	})

	t.Run("MixedArraySkipsUnknownItems", func(t *testing.T) {
		raw := []byte(`{"status":"succeeded","output":["https://cdn/a.png",42,{"url":"https://cdn/b.png"}]}`)
		state := ParseJobState(raw)
		assert.Equal(t, []string{"https://cdn/a.png", "https://cdn/b.png"}, state.Outputs)
	})

	t.Run("NullOutput", func(t *testing.T) {
		raw := []byte(`{"status":"processing","output":null}`)
		state := ParseJobState(raw)
		assert.Equal(t, JobProcessing, state.Status)
		assert.Nil(t, state.Outputs)
	})

	t.Run("MissingOutput", func(t *testing.T) {
		raw := []byte(`{"status":"starting"}`)
		state := ParseJobState(raw)
		assert.Equal(t, JobStarting, state.Status)
		assert.Nil(t, state.Outputs)
	})

	t.Run("NumericOutputDropped", func(t *testing.T) {
		raw := []byte(`{"status":"succeeded","output":7}`)
		state := ParseJobState(raw)
		assert.Nil(t, state.Outputs)
	})

	t.Run("FailedWithError", func(t *testing.T) {
		raw := []byte(`{"status":"failed","error":"NSFW content detected"}`)
		state := ParseJobState(raw)
		assert.Equal(t, JobFailed, state.Status)
		assert.Equal(t, "NSFW content detected", state.Error)
	})
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want JobStatus
	}{
		{"starting", JobStarting},
		{"queued", JobStarting},
		{"processing", JobProcessing},
		{"running", JobProcessing},
		{"training", JobProcessing},
		{"succeeded", JobSucceeded},
		{"completed", JobSucceeded},
		{"failed", JobFailed},
		{"error", JobFailed},
		{"canceled", JobCanceled},
		{"cancelled", JobCanceled},
		{"something-new", JobProcessing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeStatus(tt.in), "status %q", tt.in)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStarting.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.True(t, JobSucceeded.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.True(t, JobCanceled.Terminal())
}
