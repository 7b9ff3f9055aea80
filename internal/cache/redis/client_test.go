package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolKey(t *testing.T) {
	assert.Equal(t, "tool:get_sales_funnel:abc", ToolKey("get_sales_funnel", "abc"))
}

func TestToolPattern(t *testing.T) {
	assert.Equal(t, "tool:*", ToolPattern(""))
	assert.Equal(t, "tool:run_predefined_query:*", ToolPattern("run_predefined_query"))
}
