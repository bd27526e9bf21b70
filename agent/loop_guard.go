package agent

import (
	"github.com/BaSui01/agentrelay/llm/tools"
	"github.com/BaSui01/agentrelay/types"
)

// DefaultRepeatThreshold 同一工具+相同参数被提议的次数达到该值时终止循环
const DefaultRepeatThreshold = 3

// repeatGuard counts proposals of identical (tool, arguments) pairs within one
// invocation. threshold <= 0 disables it.
type repeatGuard struct {
	threshold int
	counts    map[string]int
}

func newRepeatGuard(threshold int) *repeatGuard {
	return &repeatGuard{threshold: threshold, counts: make(map[string]int)}
}

// observe records call and reports whether it has now reached the threshold.
func (g *repeatGuard) observe(call types.ToolCallRequest) (int, bool) {
	if g.threshold <= 0 {
		return 0, false
	}
	key := call.ToolID + "|" + tools.CanonicalArguments(call.Arguments)
	g.counts[key]++
	n := g.counts[key]
	return n, n >= g.threshold
}
