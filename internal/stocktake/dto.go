package stocktake

import "time"

type CreateStockTakeRequest struct {
	SiteCode string     `json:"site_code" validate:"required,max=20"`
	DocDate  *time.Time `json:"doc_date,omitempty"`
	Remark   string     `json:"remark" validate:"max=500"`
}

type UpdateRemarkRequest struct {
	Remark string `json:"remark" validate:"max=500"`
}

type FilterRequest struct {
	Search    string `json:"search" validate:"max=100"`
	BrandCode string `json:"brand_code" validate:"max=20"`
	RangeCode string `json:"range_code" validate:"max=20"`
}

type SelectItemsRequest struct {
	Items []ItemRefRequest `json:"items" validate:"required,min=1,dive"`
}

type ItemRefRequest struct {
	ItemCode string `json:"item_code" validate:"required,max=30"`
	UOM      string `json:"uom" validate:"required,max=20"`
}

type UpdateLineRequest struct {
	CountedQty *float64          `json:"counted_qty,omitempty" validate:"omitempty,gte=0"`
	Breakdown  *BreakdownRequest `json:"breakdown,omitempty"`
	Remark     *string           `json:"remark,omitempty" validate:"omitempty,max=500"`
	Confirmed  *bool             `json:"confirmed,omitempty"`
}

type BreakdownRequest struct {
	Specific bool                `json:"specific"`
	Entries  []BatchEntryRequest `json:"entries" validate:"dive"`
}

type BatchEntryRequest struct {
	BatchNo    string     `json:"batch_no" validate:"max=40"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	CountedQty float64    `json:"counted_qty" validate:"gte=0"`
}

type HeaderResponse struct {
	DocNo     string     `json:"doc_no"`
	DocDate   time.Time  `json:"doc_date"`
	SiteCode  string     `json:"site_code"`
	Status    Status     `json:"status"`
	Remark    string     `json:"remark,omitempty"`
	CreatedBy int64      `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	PostedBy  *int64     `json:"posted_by,omitempty"`
	PostedAt  *time.Time `json:"posted_at,omitempty"`
}

type LineResponse struct {
	ItemCode    string             `json:"item_code"`
	Description string             `json:"description"`
	UOM         string             `json:"uom"`
	UnitPrice   float64            `json:"unit_price"`
	SystemQty   float64            `json:"system_qty"`
	CountedQty  float64            `json:"counted_qty"`
	Variance    float64            `json:"variance"`
	Remark      string             `json:"remark,omitempty"`
	Breakdown   *BreakdownResponse `json:"breakdown,omitempty"`
}

type BreakdownResponse struct {
	Specific bool                 `json:"specific"`
	Entries  []BatchEntryResponse `json:"entries"`
}

type BatchEntryResponse struct {
	BatchNo    string  `json:"batch_no"`
	Expiry     *string `json:"expiry,omitempty"`
	SystemQty  float64 `json:"system_qty"`
	CountedQty float64 `json:"counted_qty"`
}

type DocumentResponse struct {
	Header HeaderResponse `json:"header"`
	Lines  []LineResponse `json:"lines"`
	Totals TotalsResponse `json:"totals"`
}

type TotalsResponse struct {
	SystemQty  float64 `json:"system_qty"`
	CountedQty float64 `json:"counted_qty"`
	Variance   float64 `json:"variance"`
}

type SessionResponse struct {
	ID       string                `json:"id"`
	DocNo    string                `json:"doc_no"`
	SiteCode string                `json:"site_code"`
	Phase    Phase                 `json:"phase"`
	Selected []SelectedItem        `json:"selected,omitempty"`
	Lines    []SessionLineResponse `json:"lines,omitempty"`
}

type SessionLineResponse struct {
	ItemCode    string             `json:"item_code"`
	Description string             `json:"description"`
	UOM         string             `json:"uom"`
	UnitPrice   float64            `json:"unit_price"`
	SystemQty   float64            `json:"system_qty"`
	CountedQty  float64            `json:"counted_qty"`
	Variance    float64            `json:"variance"`
	Remark      string             `json:"remark,omitempty"`
	Confirmed   bool               `json:"confirmed"`
	Breakdown   *BreakdownResponse `json:"breakdown,omitempty"`
}

type PostResponse struct {
	DocNo         string            `json:"doc_no"`
	AlreadyPosted bool              `json:"already_posted"`
	HeaderPosted  bool              `json:"header_posted"`
	Items         []ItemResultEntry `json:"items,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
}

type ItemResultEntry struct {
	ItemCode string        `json:"item_code"`
	UOM      string        `json:"uom"`
	Variance float64       `json:"variance"`
	Balance  float64       `json:"balance"`
	Steps    []StepOutcome `json:"steps"`
}

func toHeaderResponse(h Header) HeaderResponse {
	resp := HeaderResponse{
		DocNo:     h.DocNo,
		DocDate:   h.DocDate,
		SiteCode:  h.SiteCode,
		Status:    h.Status,
		Remark:    h.Remark,
		CreatedBy: h.CreatedBy,
		CreatedAt: h.CreatedAt,
	}
	if h.PostedAt != nil {
		resp.PostedAt = h.PostedAt
		resp.PostedBy = h.PostedBy
	}
	return resp
}

func toLineResponse(l Line) LineResponse {
	return LineResponse{
		ItemCode:    l.ItemCode,
		Description: l.Description,
		UOM:         l.UOM,
		UnitPrice:   l.UnitPrice,
		SystemQty:   l.SystemQty,
		CountedQty:  l.CountedQty,
		Variance:    Variance(l.CountedQty, l.SystemQty),
		Remark:      l.Remark,
		Breakdown:   toBreakdownResponse(l.Breakdown),
	}
}

func toBreakdownResponse(b Breakdown) *BreakdownResponse {
	if len(b.Entries) == 0 && !b.Specific {
		return nil
	}
	resp := &BreakdownResponse{Specific: b.Specific, Entries: make([]BatchEntryResponse, 0, len(b.Entries))}
	for _, e := range b.Entries {
		entry := BatchEntryResponse{BatchNo: e.BatchNo, SystemQty: e.SystemQty, CountedQty: e.CountedQty}
		if e.Expiry != nil {
			d := e.Expiry.Format(dateFormat)
			entry.Expiry = &d
		}
		resp.Entries = append(resp.Entries, entry)
	}
	return resp
}

func toDocumentResponse(h Header, lines []Line, totals Totals) DocumentResponse {
	resp := DocumentResponse{
		Header: toHeaderResponse(h),
		Lines:  make([]LineResponse, 0, len(lines)),
		Totals: TotalsResponse{SystemQty: totals.TotalSystem, CountedQty: totals.TotalCounted, Variance: totals.TotalVariance},
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, toLineResponse(l))
	}
	return resp
}

func toSessionResponse(s *Session) SessionResponse {
	resp := SessionResponse{
		ID:       s.ID,
		DocNo:    s.DocNo,
		SiteCode: s.SiteCode,
		Phase:    s.Phase,
		Selected: s.Selected,
	}
	for _, l := range s.Lines {
		resp.Lines = append(resp.Lines, SessionLineResponse{
			ItemCode:    l.ItemCode,
			Description: l.Description,
			UOM:         l.UOM,
			UnitPrice:   l.UnitPrice,
			SystemQty:   l.SystemQty,
			CountedQty:  l.CountedQty,
			Variance:    Variance(l.CountedQty, l.SystemQty),
			Remark:      l.Remark,
			Confirmed:   l.Confirmed,
			Breakdown:   toBreakdownResponse(l.Breakdown),
		})
	}
	return resp
}

func toPostResponse(docNo string, result PostResult) PostResponse {
	resp := PostResponse{
		DocNo:         docNo,
		AlreadyPosted: result.AlreadyPosted,
		HeaderPosted:  result.HeaderPosted,
		Warnings:      result.Warnings,
	}
	for _, item := range result.Items {
		resp.Items = append(resp.Items, ItemResultEntry{
			ItemCode: item.ItemCode,
			UOM:      item.UOM,
			Variance: item.Variance,
			Balance:  item.Balance,
			Steps:    item.Steps,
		})
	}
	return resp
}

func toBreakdown(req BreakdownRequest) Breakdown {
	b := Breakdown{Specific: req.Specific, Entries: make([]BatchEntry, 0, len(req.Entries))}
	for _, e := range req.Entries {
		b.Entries = append(b.Entries, BatchEntry{
			BatchNo:    e.BatchNo,
			Expiry:     NormalizeExpiry(e.Expiry),
			CountedQty: e.CountedQty,
		})
	}
	return b
}
