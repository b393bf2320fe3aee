package store

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/gemledger/internal/money"
)

// Report groupings.
const (
	GroupByClient = "client"
	GroupBySeller = "seller"
	GroupByMonth  = "month"
)

// ReportRow aggregates sales for one client, seller or month. Amounts are in
// the base currency, plus the quote-currency total.
type ReportRow struct {
	Key           string          `json:"key"`
	Label         string          `json:"label"`
	Sales         int             `json:"sales"`
	Stones        int             `json:"stones"`
	BaseCost      decimal.Decimal `json:"base_cost"`
	CommissionUSD decimal.Decimal `json:"commission_usd"`
	FinalTotalUSD decimal.Decimal `json:"final_total_usd"`
	FinalTotalINR decimal.Decimal `json:"final_total_inr"`
}

type reportItem struct {
	saleID        int64
	clientID      int64
	clientName    string
	month         string
	saleBase      decimal.Decimal
	commissionUSD decimal.Decimal
	finalUSD      decimal.Decimal
	finalINR      decimal.Decimal
	price         decimal.Decimal
	sellerID      *int64
	sellerName    string
}

// SalesReport groups sales by client, seller or month. Seller rows split
// each sale's commission and totals across its stones in proportion to their
// price.
func (s *Store) SalesReport(ctx context.Context, groupBy string) ([]ReportRow, error) {
	groupBy = strings.ToLower(strings.TrimSpace(groupBy))
	switch groupBy {
	case GroupByClient, GroupBySeller, GroupByMonth:
	default:
		return nil, invalid("group must be %s, %s or %s", GroupByClient, GroupBySeller, GroupByMonth)
	}

	items, err := s.reportItems(ctx)
	if err != nil {
		return nil, err
	}

	rows := make(map[string]*ReportRow)
	order := make([]string, 0)
	salesSeen := make(map[string]map[int64]struct{})
	row := func(key, label string) *ReportRow {
		r, ok := rows[key]
		if !ok {
			r = &ReportRow{Key: key, Label: label}
			rows[key] = r
			order = append(order, key)
			salesSeen[key] = make(map[int64]struct{})
		}
		return r
	}

	for _, sale := range groupBySale(items) {
		head := sale[0]
		if groupBy == GroupBySeller {
			weights := make([]decimal.Decimal, len(sale))
			for i, it := range sale {
				weights[i] = it.price
			}
			commission := allocate(head.commissionUSD, weights)
			finalUSD := allocate(head.finalUSD, weights)
			finalINR := allocate(head.finalINR, weights)
			for i, it := range sale {
				key, label := "none", "Unassigned"
				if it.sellerID != nil {
					key, label = strconv.FormatInt(*it.sellerID, 10), it.sellerName
				}
				r := row(key, label)
				if _, seen := salesSeen[key][it.saleID]; !seen {
					salesSeen[key][it.saleID] = struct{}{}
					r.Sales++
				}
				r.Stones++
				r.BaseCost = r.BaseCost.Add(it.price)
				r.CommissionUSD = r.CommissionUSD.Add(commission[i])
				r.FinalTotalUSD = r.FinalTotalUSD.Add(finalUSD[i])
				r.FinalTotalINR = r.FinalTotalINR.Add(finalINR[i])
			}
			continue
		}

		key, label := head.month, head.month
		if groupBy == GroupByClient {
			key, label = strconv.FormatInt(head.clientID, 10), head.clientName
		}
		r := row(key, label)
		r.Sales++
		r.Stones += len(sale)
		r.BaseCost = r.BaseCost.Add(head.saleBase)
		r.CommissionUSD = r.CommissionUSD.Add(head.commissionUSD)
		r.FinalTotalUSD = r.FinalTotalUSD.Add(head.finalUSD)
		r.FinalTotalINR = r.FinalTotalINR.Add(head.finalINR)
	}

	out := make([]ReportRow, 0, len(order))
	for _, key := range order {
		out = append(out, *rows[key])
	}
	slices.SortFunc(out, func(a, b ReportRow) int {
		if groupBy == GroupByMonth {
			return strings.Compare(a.Key, b.Key)
		}
		if c := strings.Compare(strings.ToLower(a.Label), strings.ToLower(b.Label)); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	return out, nil
}

func (s *Store) reportItems(ctx context.Context) ([]reportItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			s.id, s.client_id, c.name, strftime('%Y-%m', s.created_at),
			s.base_cost, s.commission_usd, s.final_total_usd, s.final_total_inr,
			si.price, d.seller_id, COALESCE(se.name, '')
		FROM sales s
		JOIN clients c ON c.id = s.client_id
		JOIN sale_items si ON si.sale_id = s.id
		JOIN diamonds d ON d.id = si.diamond_id
		LEFT JOIN sellers se ON se.id = d.seller_id
		ORDER BY s.id, si.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query report items: %w", err)
	}
	defer rows.Close()

	items := make([]reportItem, 0)
	for rows.Next() {
		var it reportItem
		var sellerID *int64
		if err := rows.Scan(
			&it.saleID, &it.clientID, &it.clientName, &it.month,
			&it.saleBase, &it.commissionUSD, &it.finalUSD, &it.finalINR,
			&it.price, &sellerID, &it.sellerName,
		); err != nil {
			return nil, fmt.Errorf("scan report item: %w", err)
		}
		it.sellerID = sellerID
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report items: %w", err)
	}
	return items, nil
}

// groupBySale splits items, already ordered by sale, into per-sale runs.
func groupBySale(items []reportItem) [][]reportItem {
	var out [][]reportItem
	for i := 0; i < len(items); {
		j := i + 1
		for j < len(items) && items[j].saleID == items[i].saleID {
			j++
		}
		out = append(out, items[i:j])
		i = j
	}
	return out
}

// allocate splits total across weights, rounding each share to two places.
// The last share absorbs the rounding remainder so shares sum to total.
// Zero total weight splits evenly.
func allocate(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return shares
	}
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	n := decimal.NewFromInt(int64(len(weights)))
	assigned := decimal.Zero
	for i, w := range weights[:len(weights)-1] {
		var share decimal.Decimal
		if sum.IsPositive() {
			share = money.Round2(total.Mul(w).Div(sum))
		} else {
			share = money.Round2(total.Div(n))
		}
		shares[i] = share
		assigned = assigned.Add(share)
	}
	shares[len(shares)-1] = total.Sub(assigned)
	return shares
}
