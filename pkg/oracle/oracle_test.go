package oracle

import (
	"context"
	"errors"
	"testing"

	"ddx/pkg/api"
	"ddx/pkg/knowledge"
	"ddx/pkg/llm"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replyClient answers every chat with a fixed reply, or fails with err.
type replyClient struct {
	reply string
	err   error
	seen  [][]llm.Message
}

func (r *replyClient) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	r.seen = append(r.seen, messages)
	if r.err != nil {
		return nil, r.err
	}
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.NewTextChunk(r.reply)
	ch <- llm.NewFinalChunk(llm.StopReasonStop, nil)
	close(ch)
	return ch, nil
}

func (r *replyClient) IsTransientError(error) bool { return false }

func TestDecodeReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  map[string]float64
		err   bool
	}{
		{name: "bare", reply: `{"gout": 0.4}`, want: map[string]float64{"gout": 0.4}},
		{name: "fenced", reply: "```json\n{\"gout\": 0.4}\n```", want: map[string]float64{"gout": 0.4}},
		{name: "prose around", reply: `Sure! {"gout": 0.4, "dengue": 0.1} Hope this helps.`, want: map[string]float64{"gout": 0.4, "dengue": 0.1}},
		{name: "no json", reply: "I cannot answer that.", err: true},
		{name: "broken", reply: `{"gout": }`, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]float64
			err := decodeReply(tt.reply, &got)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decodeReply() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOracle_Score(t *testing.T) {
	client := &replyClient{reply: "```json\n{\"dengue\": 0.9, \"gout\": 1.7, \"influenza\": -1, \"unknown\": 0.5}\n```"}
	state := api.DiagnosticState{
		Region: "South Asia",
		Month:  8,
		Candidates: []api.DiagnosisCandidate{
			{Name: "dengue", Posterior: 0.6},
			{Name: "gout", Posterior: 0.3},
			{Name: "influenza", Posterior: 0.1},
		},
	}

	got, err := New(client).Score(context.Background(), state, api.Evidence{Label: "narrative", Text: "bleeding gums"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"dengue": 0.9, "gout": 1}, got)

	require.Len(t, client.seen, 1)
	user := client.seen[0][1].Text()
	assert.Contains(t, user, "bleeding gums")
	assert.Contains(t, user, "- influenza\n")
}

func TestOracle_ScoreErrors(t *testing.T) {
	state := api.DiagnosticState{Candidates: []api.DiagnosisCandidate{{Name: "gout", Posterior: 1}}}

	_, err := New(&replyClient{reply: `{"dengue": 0.5}`}).Score(context.Background(), state, api.Evidence{})
	assert.Error(t, err, "nothing in the differential was scored")

	boom := errors.New("provider down")
	_, err = New(&replyClient{err: boom}).Score(context.Background(), state, api.Evidence{})
	assert.ErrorIs(t, err, boom)

	_, err = New(&replyClient{}).Score(context.Background(), api.DiagnosticState{}, api.Evidence{})
	assert.Error(t, err)
}

var vocab = []knowledge.Symptom{
	{Tag: "fever", Name: "Fever", Synonyms: []string{"pyrexia"}},
	{Tag: "joint_pain", Name: "Joint Pain", Synonyms: []string{"arthralgia"}},
	{Tag: "rash", Name: "Rash"},
}

func TestExtractor_UsesModelTags(t *testing.T) {
	client := &replyClient{reply: `["Joint Pain", "fever", "fever", "sore_throat"]`}
	e := NewExtractor(client, vocab)

	got, err := e.Extract(context.Background(), "my knees ache and I am burning up")
	require.NoError(t, err)
	assert.Equal(t, []string{"joint_pain", "fever"}, got)
	assert.Contains(t, client.seen[0][0].Text(), "- joint_pain: Joint Pain (arthralgia)")
}

func TestExtractor_FallsBackToKeywords(t *testing.T) {
	for name, client := range map[string]*replyClient{
		"provider error": {err: errors.New("down")},
		"empty answer":   {reply: "[]"},
		"garbage":        {reply: "no idea"},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := NewExtractor(client, vocab).Extract(context.Background(), "pyrexia and a rash")
			require.NoError(t, err)
			assert.Equal(t, []string{"fever", "rash"}, got)
		})
	}
}

func TestExtractor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExtractor(&replyClient{err: context.Canceled}, vocab).Extract(ctx, "fever")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifier_Classify(t *testing.T) {
	client := &replyClient{reply: `{"synovitis": 0.2, "tophus": 0.7, "normal": 0.2, "melanoma": 0.9}`}
	c := NewClassifier(client, []string{"normal", "synovitis", "tophus"})

	got, err := c.Classify(context.Background(), api.Image{Name: "knee.png", MimeType: "image/png", Data: []byte{1, 2}})
	require.NoError(t, err)
	want := []api.ConditionScore{
		{Condition: "tophus", Probability: 0.7},
		{Condition: "normal", Probability: 0.2},
		{Condition: "synovitis", Probability: 0.2},
	}
	if diff := cmp.Diff(want, got.Scores); diff != "" {
		t.Errorf("Classify() mismatch (-want +got):\n%s", diff)
	}

	user := client.seen[0][1]
	require.Len(t, user.Content, 2)
	assert.Equal(t, llm.BlockTypeImage, user.Content[1].Type)
}

func TestClassifier_Errors(t *testing.T) {
	_, err := NewClassifier(&replyClient{}, nil).Classify(context.Background(), api.Image{Data: []byte{1}})
	assert.Error(t, err)

	_, err = NewClassifier(&replyClient{}, []string{"normal"}).Classify(context.Background(), api.Image{Name: "empty.png"})
	assert.Error(t, err)
}
