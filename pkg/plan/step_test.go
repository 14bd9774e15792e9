package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/planit/pkg/schema"
)

func TestNewStep_BadTimeFailsFast(t *testing.T) {
	_, err := NewStep("train", noop, schema.SlurmArgs{Time: "not-a-time"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeParse))
	assert.Contains(t, err.Error(), `"not-a-time"`)
	assert.Contains(t, err.Error(), "step train")
}

func TestNewStep_RawParamsMissingTime(t *testing.T) {
	_, err := NewStep("raw", noop, schema.RawParams{schema.ParamPartition: "gpu"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))
	assert.Contains(t, err.Error(), schema.ParamTime)
	assert.Contains(t, err.Error(), "raw")
}

func TestNewStep_RawParamsNumericTime(t *testing.T) {
	_, err := NewStep("raw", noop, schema.RawParams{schema.ParamTime: 60})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeParse))
	assert.Contains(t, err.Error(), `"60"`)
}

func TestNewStep_RequiredFields(t *testing.T) {
	res := schema.SlurmArgs{Time: "01:00:00"}

	_, err := NewStep("", noop, res)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))

	_, err = NewStep("x", nil, res)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))

	_, err = NewStep("x", noop, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))

	_, err = NewStep("x", noop, schema.SlurmArgs{Time: "01:00:00", MailType: []schema.MailType{"NEVER"}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))
}

func TestMustStep_Panics(t *testing.T) {
	assert.Panics(t, func() { MustStep("bad", noop, schema.SlurmArgs{Time: "1:2:3:4"}) })
	assert.NotPanics(t, func() { MustStep("ok", noop, schema.SlurmArgs{Time: "00:05"}) })
}

func TestStepOptionsAreCopied(t *testing.T) {
	args := []any{"a", 1}
	kwargs := map[string]any{"lr": 0.1}
	s := step(t, "opts", "00:10:00", WithArgs(args...), WithKwargs(kwargs))

	args[0] = "changed"
	kwargs["lr"] = 0.5

	assert.Equal(t, []any{"a", 1}, s.Args())
	assert.Equal(t, map[string]any{"lr": 0.1}, s.Kwargs())

	s.Kwargs()["lr"] = 9
	assert.Equal(t, 0.1, s.Kwargs()["lr"])
}

func TestStepJobSlotIsWriteOnce(t *testing.T) {
	s := step(t, "once", "00:10:00")
	_, ok := s.Job()
	assert.False(t, ok)

	require.NoError(t, s.setJob(&fakeJob{id: "1"}))
	err := s.setJob(&fakeJob{id: "2"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeAlreadySubmitted))

	job, ok := s.Job()
	require.True(t, ok)
	assert.Equal(t, "1", job.ID())
}
