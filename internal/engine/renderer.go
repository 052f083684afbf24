// internal/engine/renderer.go
package engine

// Renderer realizes the engine's decisions. The engine only ever calls out to
// it; a Renderer must not call back into the Story from these methods.
type Renderer interface {
	// RenderPage presents a fully resolved page.
	RenderPage(view PageView)
	// ChangeContent applies one text mutation on the page it names.
	ChangeContent(change ContentChange)
	// RequestNavigation announces a move to pageID. When immediate is false the
	// renderer shows a continue control and the host calls Story.Continue.
	RequestNavigation(pageID string, immediate bool)
}

// Instruction kinds emitted by a Recorder.
const (
	InstructionRender   = "render_page"
	InstructionChange   = "content_change"
	InstructionNavigate = "navigate"
)

// Navigation is a navigation request as sent to the renderer.
type Navigation struct {
	PageID    string `json:"page_id"`
	Immediate bool   `json:"immediate"`
	Timer     bool   `json:"timer,omitempty"`
}

// Instruction is one renderer call captured as data.
type Instruction struct {
	Kind       string         `json:"kind"`
	Page       *PageView      `json:"page,omitempty"`
	Change     *ContentChange `json:"change,omitempty"`
	Navigation *Navigation    `json:"navigation,omitempty"`
}

// Recorder is a Renderer that stores instructions for later delivery. The
// host drains it after each operation and forwards the batch to clients.
type Recorder struct {
	instructions []Instruction
	onRecord     func(Instruction)
}

// NewRecorder returns an empty Recorder. onRecord, if non-nil, sees every
// instruction as it is recorded.
func NewRecorder(onRecord func(Instruction)) *Recorder {
	return &Recorder{onRecord: onRecord}
}

func (r *Recorder) record(in Instruction) {
	r.instructions = append(r.instructions, in)
	if r.onRecord != nil {
		r.onRecord(in)
	}
}

func (r *Recorder) RenderPage(view PageView) {
	r.record(Instruction{Kind: InstructionRender, Page: &view})
}

func (r *Recorder) ChangeContent(change ContentChange) {
	r.record(Instruction{Kind: InstructionChange, Change: &change})
}

func (r *Recorder) RequestNavigation(pageID string, immediate bool) {
	r.record(Instruction{Kind: InstructionNavigate, Navigation: &Navigation{PageID: pageID, Immediate: immediate}})
}

// Instructions returns everything recorded so far without clearing it.
func (r *Recorder) Instructions() []Instruction {
	out := make([]Instruction, len(r.instructions))
	copy(out, r.instructions)
	return out
}

// Drain returns and clears the recorded instructions.
func (r *Recorder) Drain() []Instruction {
	out := r.instructions
	r.instructions = nil
	return out
}

// NopRenderer discards every instruction.
type NopRenderer struct{}

func (NopRenderer) RenderPage(PageView)            {}
func (NopRenderer) ChangeContent(ContentChange)    {}
func (NopRenderer) RequestNavigation(string, bool) {}
