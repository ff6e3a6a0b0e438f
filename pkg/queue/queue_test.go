package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-service-go/internal/config"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := decodeEnvelope([]byte(`{"doc_id":"doc-1"}`))

	require.NoError(t, err)
	assert.Equal(t, "doc-1", env.DocID)
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"非 JSON", "plain text"},
		{"缺少 doc_id", `{"other":"field"}`},
		{"doc_id 为空串", `{"doc_id":""}`},
		{"类型不符", `{"doc_id":42}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := decodeEnvelope([]byte(tc.payload))
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Nil(t, env)
		})
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	q, err := New(config.QueueConfig{Driver: "rabbitmq"}, nil)

	assert.Error(t, err)
	assert.Nil(t, q)
}

func TestNewDefaultsToRedis(t *testing.T) {
	q, err := New(config.QueueConfig{RedisKey: "rag:ingest:queue"}, nil)

	require.NoError(t, err)
	_, ok := q.(*redisQueue)
	assert.True(t, ok)
}
