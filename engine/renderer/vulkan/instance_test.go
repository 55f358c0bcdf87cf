package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatObjectNamePassesThroughUntaggedNames(t *testing.T) {
	assert.Equal(t, "some message with no address", formatObjectName("some message with no address"))
}

func TestFormatObjectNameAppliesRegisteredPrinter(t *testing.T) {
	const tag = byte('B')
	RegisterObjectPrettyPrinter(tag, func(addr uintptr) string {
		return "buffer#42"
	})

	name := string(tag) + "myBuffer at 0x1234"
	got := formatObjectName(name)
	assert.Equal(t, "myBuffer at buffer#42", got)
}

func TestFormatObjectNameLeavesUnregisteredTagAlone(t *testing.T) {
	name := string(byte(0x7e)) + "thing at 0x1"
	got := formatObjectName(name)
	assert.Equal(t, name, got)
}
