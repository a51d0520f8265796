package bridge

import (
	"encoding/json"
	"strings"
	"sync"
)

type commandReply struct {
	result map[string]any
	err    error
}

// pendingSet tracks in-flight commands by request id. Every waiter gets a
// one-slot buffered channel so resolving never blocks the reader
// goroutine, even when the caller already gave up.
type pendingSet struct {
	mu      sync.Mutex
	waiters map[string]chan commandReply
}

func newPendingSet() *pendingSet {
	return &pendingSet{waiters: make(map[string]chan commandReply)}
}

func (p *pendingSet) register(id string) chan commandReply {
	ch := make(chan commandReply, 1)
	p.mu.Lock()
	p.waiters[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingSet) drop(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// resolve delivers a reply to the waiter registered under id and reports
// whether one existed. A late duplicate resolves nothing.
func (p *pendingSet) resolve(id string, reply commandReply) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- reply:
	default:
	}
	return true
}

// failAll resolves every outstanding command with err so that no caller
// hangs until its own timeout after the connection drops.
func (p *pendingSet) failAll(err error) int {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan commandReply)
	p.mu.Unlock()
	for _, ch := range waiters {
		select {
		case ch <- commandReply{err: err}:
		default:
		}
	}
	return len(waiters)
}

func (p *pendingSet) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

type responsePayload struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// decodeCommandReply turns a response payload into a reply. Anything that
// is not an explicit ok:true becomes a ProtocolError; a garbled payload
// resolves the waiter with internal_error rather than leaving it hanging.
func decodeCommandReply(payload []byte) commandReply {
	var resp responsePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &resp); err != nil {
			return commandReply{err: NewProtocolError(CodeInternalError, "malformed response payload", false)}
		}
	}
	if !resp.OK {
		code := CodeInternalError
		message := "bridge reported failure"
		retryable := false
		if resp.Error != nil {
			if c := strings.TrimSpace(resp.Error.Code); c != "" {
				code = c
			}
			if m := strings.TrimSpace(resp.Error.Message); m != "" {
				message = m
			}
			retryable = resp.Error.Retryable
		}
		return commandReply{err: NewProtocolError(code, message, retryable)}
	}
	result := map[string]any{}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			result = map[string]any{}
		}
	}
	return commandReply{result: result}
}

func resultString(result map[string]any, key string) string {
	if result == nil {
		return ""
	}
	s, _ := result[key].(string)
	return strings.TrimSpace(s)
}

func resultInt(result map[string]any, key string) (int, bool) {
	if result == nil {
		return 0, false
	}
	f, ok := result[key].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
