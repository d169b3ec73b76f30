package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/edu-backoffice/internal/domain/allocation"
	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

type allocationLine struct {
	Key    string `json:"key"`
	Amount int64  `json:"amount"`
}

type allocateResponse struct {
	Total int64            `json:"total"`
	Sum   int64            `json:"sum"`
	Lines []allocationLine `json:"lines"`
}

// allocate previews how a total splits across priced lines.
func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var (
		total    int64
		hasTotal bool
		items    []allocation.Item
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "total":
			v, err := d.Int64()
			total, hasTotal = v, true
			return err
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				it, err := decodeAllocItem(d)
				items = append(items, it)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !hasTotal || len(items) == 0 {
		writeError(w, r, payment.Invalid("total and items are required"))
		return
	}
	if total < 0 {
		writeError(w, r, payment.Invalid("total must not be negative"))
		return
	}

	a := allocation.ByRatio(items, total)
	resp := allocateResponse{Total: total, Sum: a.Sum(), Lines: make([]allocationLine, 0, a.Len())}
	for _, k := range a.Keys() {
		resp.Lines = append(resp.Lines, allocationLine{Key: k, Amount: a.Get(k)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeAllocItem reads {"key": "...", "price": 6000 | "6000.00"}.
func decodeAllocItem(d *jx.Decoder) (allocation.Item, error) {
	var it allocation.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "key":
			v, err := d.Str()
			it.Key = v
			return err
		case "price":
			var raw string
			if d.Next() == jx.String {
				v, err := d.Str()
				if err != nil {
					return err
				}
				raw = v
			} else {
				n, err := d.Num()
				if err != nil {
					return err
				}
				raw = n.String()
			}
			p, err := decimal.NewFromString(raw)
			if err != nil {
				return err
			}
			it.Price = p
			return nil
		default:
			return d.Skip()
		}
	})
	return it, err
}
