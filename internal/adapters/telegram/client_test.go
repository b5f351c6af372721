package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

func TestSplitMessage_ShortTextUnchanged(t *testing.T) {
	assert.Equal(t, []string{"<b>KILL SWITCH</b>"}, splitMessage("<b>KILL SWITCH</b>", maxMessageLen))
}

func TestSplitMessage_BreaksOnNewline(t *testing.T) {
	text := "stop_loss AAPL\ntake_profit MSFT\nexpired ord-3"
	chunks := splitMessage(text, 20)

	assert.Equal(t, []string{"stop_loss AAPL", "take_profit MSFT", "expired ord-3"}, chunks)
}

func TestSplitMessage_HardCutWithoutNewline(t *testing.T) {
	text := strings.Repeat("x", 25)
	chunks := splitMessage(text, 10)

	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 10)
	}
}

func TestNewBot_RequiresToken(t *testing.T) {
	_, err := NewBot(Config{}, logger.Nop())
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}
