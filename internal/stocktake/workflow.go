package stocktake

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// Phase enumerates the two counting workflow states.
type Phase string

const (
	// PhaseSelectingItems is the initial phase: choosing which catalog items
	// participate in the count.
	PhaseSelectingItems Phase = "SELECTING_ITEMS"
	// PhaseEnteringQuantities is the second phase: entering counted
	// quantities per selected item.
	PhaseEnteringQuantities Phase = "ENTERING_QUANTITIES"
)

// ErrLineNotFound indicates an item the session does not carry.
var ErrLineNotFound = errors.New("stocktake: line not found in session")

// SelectedItem is a snapshot of a catalog row taken when the operator picks
// it. Order of selection is preserved through the whole workflow.
type SelectedItem struct {
	ItemCode    string  `json:"item_code"`
	Description string  `json:"description"`
	UOM         string  `json:"uom"`
	UnitPrice   float64 `json:"unit_price"`
	OnHandQty   float64 `json:"on_hand_qty"`
}

// SessionLine is one item being counted in the current session.
type SessionLine struct {
	ItemCode    string    `json:"item_code"`
	Description string    `json:"description"`
	UOM         string    `json:"uom"`
	UnitPrice   float64   `json:"unit_price"`
	SystemQty   float64   `json:"system_qty"`
	CountedQty  float64   `json:"counted_qty"`
	Remark      string    `json:"remark"`
	Breakdown   Breakdown `json:"breakdown"`
	Confirmed   bool      `json:"confirmed"`
}

// Session is the counting workflow state for one document. It is edited by a
// single operator; persistence between requests is the session store's job.
type Session struct {
	ID        string         `json:"id"`
	DocNo     string         `json:"doc_no"`
	SiteCode  string         `json:"site_code"`
	Phase     Phase          `json:"phase"`
	Filter    string         `json:"filter"`
	Selected  []SelectedItem `json:"selected"`
	Lines     []SessionLine  `json:"lines"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewSession starts a counting session in the selection phase.
func NewSession(docNo, siteCode, filterFingerprint string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		DocNo:     docNo,
		SiteCode:  siteCode,
		Phase:     PhaseSelectingItems,
		Filter:    filterFingerprint,
		UpdatedAt: time.Now().UTC(),
	}
}

// SetFilter records a change of search criteria. Changing criteria while
// entering quantities invalidates the selection set, so the session drops
// back to the selection phase and clears it.
func (s *Session) SetFilter(fingerprint string) {
	if fingerprint == s.Filter {
		return
	}
	s.Filter = fingerprint
	if s.Phase == PhaseEnteringQuantities {
		s.Phase = PhaseSelectingItems
		s.Selected = nil
		s.Lines = nil
	}
	s.touch()
}

// Select replaces the selected item set. Only valid in the selection phase.
func (s *Session) Select(items []SelectedItem) error {
	if s.Phase != PhaseSelectingItems {
		return ErrSessionState
	}
	s.Selected = items
	s.touch()
	return nil
}

// Proceed moves to quantity entry. It snapshots the selection in its original
// order; items already present in a previously saved document keep their
// prior counted quantity, breakdown, and system quantity, and confirmed
// lines retained across Back win over both. The saved system quantity is
// authoritative: re-opening a document never refreshes it.
func (s *Session) Proceed(prior []Line) error {
	if s.Phase != PhaseSelectingItems {
		return ErrSessionState
	}
	if len(s.Selected) == 0 {
		return ErrNoSelection
	}
	previous := make(map[string]Line, len(prior))
	for _, line := range prior {
		previous[line.ItemCode+"|"+line.UOM] = line
	}
	retained := make(map[string]SessionLine, len(s.Lines))
	for _, line := range s.Lines {
		if line.Confirmed {
			retained[line.ItemCode+"|"+line.UOM] = line
		}
	}
	lines := make([]SessionLine, 0, len(s.Selected))
	for _, item := range s.Selected {
		key := item.ItemCode + "|" + item.UOM
		line := SessionLine{
			ItemCode:    item.ItemCode,
			Description: item.Description,
			UOM:         item.UOM,
			UnitPrice:   item.UnitPrice,
			SystemQty:   item.OnHandQty,
		}
		if saved, ok := previous[key]; ok {
			line.SystemQty = saved.SystemQty
			line.CountedQty = saved.CountedQty
			line.Remark = saved.Remark
			line.Breakdown = saved.Breakdown
			line.Confirmed = saved.Confirmed
		}
		if kept, ok := retained[key]; ok {
			line = kept
		}
		lines = append(lines, line)
	}
	s.Lines = lines
	s.Phase = PhaseEnteringQuantities
	s.touch()
	return nil
}

// Back returns to the selection phase. Always permitted; quantity edits on
// lines not yet confirmed are discarded.
func (s *Session) Back() {
	if s.Phase == PhaseEnteringQuantities {
		kept := s.Lines[:0]
		for _, line := range s.Lines {
			if line.Confirmed {
				kept = append(kept, line)
			}
		}
		s.Lines = kept
	}
	s.Phase = PhaseSelectingItems
	s.touch()
}

// SetQuantity updates the counted quantity of one line. When the existing
// breakdown no longer sums to the new quantity the breakdown is cleared,
// forcing re-entry instead of leaving stale buckets behind.
func (s *Session) SetQuantity(itemCode, uom string, qty, tolerance float64) error {
	line, err := s.line(itemCode, uom)
	if err != nil {
		return err
	}
	if len(line.Breakdown.Entries) > 0 && math.Abs(line.Breakdown.Sum()-qty) > tolerance {
		line.Breakdown = Breakdown{}
	}
	line.CountedQty = qty
	line.Confirmed = false
	s.touch()
	return nil
}

// SetBreakdown replaces a line's batch breakdown.
func (s *Session) SetBreakdown(itemCode, uom string, b Breakdown) error {
	line, err := s.line(itemCode, uom)
	if err != nil {
		return err
	}
	line.Breakdown = b
	line.Confirmed = false
	s.touch()
	return nil
}

// SetRemark updates a line remark.
func (s *Session) SetRemark(itemCode, uom, remark string) error {
	line, err := s.line(itemCode, uom)
	if err != nil {
		return err
	}
	line.Remark = remark
	s.touch()
	return nil
}

// Confirm marks a line eligible for saving and posting. Breakdown/quantity
// consistency is enforced at posting time, not per keystroke.
func (s *Session) Confirm(itemCode, uom string, confirmed bool) error {
	line, err := s.line(itemCode, uom)
	if err != nil {
		return err
	}
	line.Confirmed = confirmed
	s.touch()
	return nil
}

// ConfirmedLines converts confirmed session lines to document lines.
func (s *Session) ConfirmedLines() []Line {
	var lines []Line
	for _, sl := range s.Lines {
		if !sl.Confirmed {
			continue
		}
		lines = append(lines, Line{
			DocNo:       s.DocNo,
			ItemCode:    sl.ItemCode,
			Description: sl.Description,
			UOM:         sl.UOM,
			CountedQty:  sl.CountedQty,
			SystemQty:   sl.SystemQty,
			UnitPrice:   sl.UnitPrice,
			Remark:      sl.Remark,
			Confirmed:   true,
			Breakdown:   sl.Breakdown,
		})
	}
	return lines
}

func (s *Session) line(itemCode, uom string) (*SessionLine, error) {
	if s.Phase != PhaseEnteringQuantities {
		return nil, ErrSessionState
	}
	for i := range s.Lines {
		if s.Lines[i].ItemCode == itemCode && s.Lines[i].UOM == uom {
			return &s.Lines[i], nil
		}
	}
	return nil, ErrLineNotFound
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}
