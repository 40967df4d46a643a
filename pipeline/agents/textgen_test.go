package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aios-systems/aios/envelope"
)

type fakeGenerator struct {
	reply string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestTextGenExpertExecuteReturnsGeneratedText(t *testing.T) {
	gen := &fakeGenerator{reply: "hello there"}
	expert := newTextGenExpert("writer", gen, []string{"text_generation"}, []string{"general"}, nil)

	req := envelope.New("say hi", envelope.RequestGeneral, envelope.SourceCLI)
	resp, err := expert.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, 1, gen.calls)
}

func TestTextGenExpertExecutePropagatesGeneratorError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("upstream exploded")}
	expert := newTextGenExpert("writer", gen, nil, nil, nil)

	req := envelope.New("say hi", envelope.RequestGeneral, envelope.SourceCLI)
	_, err := expert.Execute(context.Background(), req)
	require.Error(t, err)
}

func TestTextGenExpertHealthCheckReflectsCircuitState(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("down")}
	expert := newTextGenExpert("writer", gen, nil, nil, nil)
	req := envelope.New("say hi", envelope.RequestGeneral, envelope.SourceCLI)

	for i := 0; i < 10; i++ {
		_, _ = expert.Execute(context.Background(), req)
	}

	assert.Error(t, expert.HealthCheck(context.Background()))
}
