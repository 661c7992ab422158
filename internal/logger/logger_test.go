package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("loud"))
}

func TestJSONOutputCarriesFn(t *testing.T) {
	var buf bytes.Buffer
	l := build(&buf, "info")
	l.AddHook(fnHook{fn: "segments-api"})

	l.WithField("shop", "demo.myshopify.com").Info("hello")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "hello", got["message"])
	assert.Equal(t, "segments-api", got["fn"])
	assert.Equal(t, "demo.myshopify.com", got["shop"])
	assert.Equal(t, "info", got["level"])
}

func TestNewIsCachedPerFunction(t *testing.T) {
	assert.Same(t, New("a"), New("a"))
	assert.NotSame(t, New("a"), New("b"))
}
