// Package timeline reports hour-granularity schedules as day-bounded blocks.
package timeline

// BlockKind classifies a block.
type BlockKind int

const (
	BlockIdle BlockKind = iota
	BlockCampaign
	BlockChangeover
)

func (k BlockKind) String() string {
	switch k {
	case BlockCampaign:
		return "campaign"
	case BlockChangeover:
		return "changeover"
	default:
		return "idle"
	}
}

// Block is a contiguous span of one state inside a single day.
type Block struct {
	Kind     BlockKind
	Campaign string
	// From and To name the campaigns around a changeover.
	From  string
	To    string
	Hours int
	Tons  float64
}

// Splitter groups the hourly campaign codes of one resource into day blocks.
type Splitter struct {
	HoursPerDay int
	// ChangeoverHours is the resource changeover constant.
	ChangeoverHours int
	// Rate returns the daily rate of a campaign on the resource.
	Rate func(code string) float64
}

type hour struct {
	kind     BlockKind
	code     string
	from, to string
}

// Split walks codes (hour h at index h-1, "" for idle) and returns one block
// list per day. A change between two campaigns opens a changeover of
// ChangeoverHours that overrides the following hours; the hour right after it
// belongs to the new campaign. Changeovers crossing midnight are split into
// one block per day they touch and clipped at the end of codes, so block
// hours always sum to len(codes).
func (s Splitter) Split(codes []string) [][]Block {
	hpd := s.HoursPerDay
	if hpd <= 0 || len(codes) == 0 {
		return nil
	}
	days := make([][]Block, 0, (len(codes)+hpd-1)/hpd)
	var day []Block
	w := walker{changeover: s.ChangeoverHours}
	for h, code := range codes {
		st := w.next(code)
		if n := len(day); n == 0 || !day[n-1].extends(st) {
			day = append(day, Block{Kind: st.kind, Campaign: st.code, From: st.from, To: st.to})
		}
		b := &day[len(day)-1]
		b.Hours++
		if st.kind == BlockCampaign && s.Rate != nil {
			b.Tons += s.Rate(st.code) / float64(hpd)
		}
		if (h+1)%hpd == 0 || h == len(codes)-1 {
			days = append(days, day)
			day = nil
		}
	}
	return days
}

func (b *Block) extends(st hour) bool {
	return b.Kind == st.kind && b.Campaign == st.code && b.From == st.from && b.To == st.to
}

// walker attributes hours one at a time. It is idle while cur is empty, in a
// campaign otherwise, and in a changeover while left hours remain; the hour
// after a changeover is owed to the new campaign.
type walker struct {
	changeover int
	cur        string
	from, to   string
	left       int
	owed       bool
}

func (w *walker) next(code string) hour {
	switch {
	case w.left > 0:
		w.left--
		w.owed = w.left == 0
		return hour{kind: BlockChangeover, from: w.from, to: w.to}
	case w.owed:
		w.owed = false
		return hour{kind: BlockCampaign, code: w.cur}
	case code == "":
		w.cur = ""
		return hour{kind: BlockIdle}
	case w.cur != "" && code != w.cur && w.changeover > 0:
		w.from, w.to, w.cur = w.cur, code, code
		w.left = w.changeover - 1
		w.owed = w.left == 0
		return hour{kind: BlockChangeover, from: w.from, to: w.to}
	default:
		w.cur = code
		return hour{kind: BlockCampaign, code: code}
	}
}

// TotalHours sums the hours of every block.
func TotalHours(days [][]Block) int {
	n := 0
	for _, d := range days {
		for _, b := range d {
			n += b.Hours
		}
	}
	return n
}
