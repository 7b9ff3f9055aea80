package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatementTimeoutSQL(t *testing.T) {
	assert.Equal(t, "SET LOCAL statement_timeout = 30000", statementTimeoutSQL(30*time.Second))
	assert.Equal(t, "SET LOCAL statement_timeout = 1500", statementTimeoutSQL(1500*time.Millisecond))
}

func TestClassify(t *testing.T) {
	plain := errors.New("syntax error at or near SELECT")
	assert.Same(t, plain, classify(plain))
	assert.False(t, errors.Is(classify(plain), errTransient))
}
