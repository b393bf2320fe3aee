package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/gemledger/internal/db"
	"github.com/Simplici0/gemledger/internal/migrations"
	"github.com/Simplici0/gemledger/internal/reconcile"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "store-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, migrations.Up(context.Background(), database))
	return New(database)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func stone(stockID, carat, rate, discount string) DiamondInput {
	return DiamondInput{
		StockID:         stockID,
		Shape:           "Round",
		Carat:           dec(carat),
		Color:           "g",
		Clarity:         "vs1",
		RapRate:         dec(rate),
		DiscountPercent: dec(discount),
	}
}

func TestDiamondLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	seller, err := s.CreateSeller(ctx, SellerInput{Name: "House"})
	require.NoError(t, err)
	assert.True(t, seller.Active)

	in := stone("D-1", "1.01", "5000", "20")
	in.SellerID = &seller.ID
	d, err := s.CreateDiamond(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "round", d.Shape)
	assert.Equal(t, "G", d.Color)
	assert.Equal(t, StatusAvailable, d.Status)
	assert.True(t, d.Price.Equal(dec("5050.00")), "price %s", d.Price)
	assert.True(t, d.DiscountedPrice.Equal(dec("4040.00")), "discounted %s", d.DiscountedPrice)
	require.NotNil(t, d.SellerID)

	_, err = s.CreateDiamond(ctx, stone("D-1", "0.5", "1000", "0"))
	assert.ErrorIs(t, err, ErrInvalid)

	in.RapRate = dec("6000")
	in.Status = StatusMemo
	d, err = s.UpdateDiamond(ctx, d.ID, in)
	require.NoError(t, err)
	assert.Equal(t, StatusMemo, d.Status)
	assert.True(t, d.Price.Equal(dec("6060.00")))

	list, err := s.ListDiamonds(ctx, DiamondFilter{Status: "memo"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = s.ListDiamonds(ctx, DiamondFilter{Query: "nothing-matches"})
	require.NoError(t, err)
	assert.Empty(t, list)

	err = s.DeleteSeller(ctx, seller.ID)
	assert.ErrorIs(t, err, ErrInUse)

	require.NoError(t, s.DeleteDiamond(ctx, d.ID))
	_, err = s.GetDiamond(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiamondValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*DiamondInput){
		"missing stock id": func(in *DiamondInput) { in.StockID = " " },
		"zero carat":       func(in *DiamondInput) { in.Carat = decimal.Zero },
		"discount over":    func(in *DiamondInput) { in.DiscountPercent = dec("101") },
		"sold on input":    func(in *DiamondInput) { in.Status = StatusSold },
		"negative rate":    func(in *DiamondInput) { in.RapRate = dec("-1") },
		"huge carat":       func(in *DiamondInput) { in.Carat = decimal.New(1, 5000000) },
		"tiny rate":        func(in *DiamondInput) { in.RapRate = decimal.New(1, -5000000) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := stone("X", "1", "100", "0")
			mutate(&in)
			in.Normalize()
			assert.ErrorIs(t, in.Validate(), ErrInvalid)
		})
	}
}

func TestDiamondsByIDsKeepsOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.CreateDiamond(ctx, stone("A", "1", "100", "0"))
	require.NoError(t, err)
	b, err := s.CreateDiamond(ctx, stone("B", "1", "200", "0"))
	require.NoError(t, err)

	got, err := s.DiamondsByIDs(ctx, []int64{b.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].StockID)
	assert.Equal(t, "A", got[1].StockID)

	_, err = s.DiamondsByIDs(ctx, []int64{a.ID, 999})
	assert.ErrorIs(t, err, ErrNotFound)
}

func inrPayload(finalUSD, finalINR string) reconcile.SalePayload {
	state := reconcile.State{
		Currency:        "INR",
		ExchangeRate:    "85",
		CommissionBase:  "100.00",
		CommissionQuote: "8500.00",
		FinalTotalBase:  finalUSD,
		FinalTotalQuote: finalINR,
	}
	return reconcile.Payload(state, reconcile.DefaultGSTRates)
}

func TestCreateSaleMarksStonesSold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	client, err := s.CreateClient(ctx, ClientInput{Name: "Acme Jewels", GSTIN: "27aapfu0939f1zv"})
	require.NoError(t, err)
	assert.Equal(t, "27AAPFU0939F1ZV", client.GSTIN)

	a, err := s.CreateDiamond(ctx, stone("A", "1", "600", "0"))
	require.NoError(t, err)
	b, err := s.CreateDiamond(ctx, stone("B", "1", "400", "0"))
	require.NoError(t, err)

	sale, err := s.CreateSale(ctx, SaleInput{
		ClientID:          client.ID,
		DiamondIDs:        []int64{a.ID, b.ID},
		BaseCost:          dec("1000"),
		CommissionPercent: "10",
		Payload:           inrPayload("1100.00", "93500.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, InvoiceNumber(sale.ID), sale.InvoiceNo)
	assert.Equal(t, "Acme Jewels", sale.ClientName)
	require.Len(t, sale.Items, 2)
	require.NotNil(t, sale.GST)
	assert.Equal(t, "701.25", sale.GST.CGST)
	assert.True(t, sale.AmountDue.Equal(dec("94902.50")), "due %s", sale.AmountDue)
	assert.True(t, sale.Balance.Equal(sale.AmountDue))

	got, err := s.GetDiamond(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSold, got.Status)

	_, err = s.UpdateDiamond(ctx, a.ID, stone("A", "1", "600", "0"))
	assert.ErrorIs(t, err, ErrDiamondUnavailable)

	c, err := s.CreateDiamond(ctx, stone("C", "1", "100", "0"))
	require.NoError(t, err)
	_, err = s.CreateSale(ctx, SaleInput{
		ClientID:   client.ID,
		DiamondIDs: []int64{a.ID, c.ID},
		BaseCost:   dec("700"),
		Payload:    inrPayload("700.00", "59500.00"),
	})
	assert.ErrorIs(t, err, ErrDiamondUnavailable)

	got, err = s.GetDiamond(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, got.Status, "failed sale must roll back")

	err = s.DeleteClient(ctx, client.ID)
	assert.ErrorIs(t, err, ErrInUse)
}

func TestCreateSaleRejectsStaleBaseCost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	client, err := s.CreateClient(ctx, ClientInput{Name: "Buyer"})
	require.NoError(t, err)
	d, err := s.CreateDiamond(ctx, stone("A", "1", "1000", "10"))
	require.NoError(t, err)

	_, err = s.CreateSale(ctx, SaleInput{
		ClientID:   client.ID,
		DiamondIDs: []int64{d.ID},
		BaseCost:   dec("1000"),
		Payload:    reconcile.SalePayload{Currency: "USD", ExchangeRate: "0", CommissionUSD: "0.00", CommissionINR: "0.00", FinalTotalUSD: "1000.00", FinalTotalINR: "0.00"},
	})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreateSale(ctx, SaleInput{
		ClientID:   client.ID,
		DiamondIDs: []int64{d.ID, d.ID},
		BaseCost:   dec("1800"),
		Payload:    reconcile.SalePayload{Currency: "USD", ExchangeRate: "0", CommissionUSD: "0.00", CommissionINR: "0.00", FinalTotalUSD: "1800.00", FinalTotalINR: "0.00"},
	})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreateSale(ctx, SaleInput{
		ClientID:   client.ID,
		DiamondIDs: []int64{d.ID},
		BaseCost:   dec("900"),
		Payload:    reconcile.SalePayload{Currency: "INR", ExchangeRate: "85", CommissionUSD: "0.00", CommissionINR: "0.00", FinalTotalUSD: "900.00", FinalTotalINR: "76500.00"},
	})
	assert.ErrorIs(t, err, ErrInvalid, "INR sale without GST breakdown")
}

func TestPaymentsTrackBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	client, err := s.CreateClient(ctx, ClientInput{Name: "Buyer"})
	require.NoError(t, err)
	d, err := s.CreateDiamond(ctx, stone("A", "1", "1000", "0"))
	require.NoError(t, err)
	sale, err := s.CreateSale(ctx, SaleInput{
		ClientID:   client.ID,
		DiamondIDs: []int64{d.ID},
		BaseCost:   dec("1000"),
		Payload:    reconcile.SalePayload{Currency: "usd", ExchangeRate: "83", CommissionUSD: "50.00", CommissionINR: "4150.00", FinalTotalUSD: "1050.00", FinalTotalINR: "87150.00"},
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", sale.Currency)
	assert.Nil(t, sale.GST)
	assert.True(t, sale.AmountDue.Equal(dec("1050")))

	p, err := s.CreatePayment(ctx, sale.ID, PaymentInput{Amount: dec("400"), Method: "wire", PaidAt: "2024-03-01"})
	require.NoError(t, err)
	assert.Equal(t, "USD", p.Currency)

	_, err = s.CreatePayment(ctx, sale.ID, PaymentInput{Amount: dec("100"), Currency: "INR"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreatePayment(ctx, sale.ID, PaymentInput{Amount: dec("650.01")})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreatePayment(ctx, sale.ID, PaymentInput{Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreatePayment(ctx, sale.ID, PaymentInput{Amount: dec("650")})
	require.NoError(t, err)

	payments, err := s.ListPayments(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)

	sale, err = s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, sale.Paid.Equal(dec("1050")))
	assert.True(t, sale.Balance.IsZero())

	_, err = s.ListPayments(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSalesReport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	alpha, err := s.CreateSeller(ctx, SellerInput{Name: "Alpha"})
	require.NoError(t, err)
	beta, err := s.CreateSeller(ctx, SellerInput{Name: "Beta"})
	require.NoError(t, err)
	client, err := s.CreateClient(ctx, ClientInput{Name: "Buyer"})
	require.NoError(t, err)

	a := stone("A", "1", "300", "0")
	a.SellerID = &alpha.ID
	b := stone("B", "1", "700", "0")
	b.SellerID = &beta.ID
	first, err := s.CreateDiamond(ctx, a)
	require.NoError(t, err)
	second, err := s.CreateDiamond(ctx, b)
	require.NoError(t, err)

	_, err = s.CreateSale(ctx, SaleInput{
		ClientID:   client.ID,
		DiamondIDs: []int64{first.ID, second.ID},
		BaseCost:   dec("1000"),
		Payload:    reconcile.SalePayload{Currency: "USD", ExchangeRate: "0", CommissionUSD: "100.01", CommissionINR: "0.00", FinalTotalUSD: "1100.01", FinalTotalINR: "0.00"},
	})
	require.NoError(t, err)

	rows, err := s.SalesReport(ctx, "seller")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Alpha", rows[0].Label)
	assert.True(t, rows[0].BaseCost.Equal(dec("300")))
	assert.True(t, rows[0].CommissionUSD.Equal(dec("30.00")), "alpha commission %s", rows[0].CommissionUSD)
	assert.True(t, rows[1].CommissionUSD.Equal(dec("70.01")), "beta commission %s", rows[1].CommissionUSD)
	assert.True(t, rows[0].CommissionUSD.Add(rows[1].CommissionUSD).Equal(dec("100.01")))

	rows, err = s.SalesReport(ctx, "client")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Sales)
	assert.Equal(t, 2, rows[0].Stones)
	assert.True(t, rows[0].FinalTotalUSD.Equal(dec("1100.01")))

	rows, err = s.SalesReport(ctx, "month")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Regexp(t, `^\d{4}-\d{2}$`, rows[0].Key)

	_, err = s.SalesReport(ctx, "week")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestAllocate(t *testing.T) {
	t.Parallel()

	shares := allocate(dec("10"), []decimal.Decimal{dec("1"), dec("1"), dec("1")})
	assert.Equal(t, "3.33", shares[0].StringFixed(2))
	assert.Equal(t, "3.33", shares[1].StringFixed(2))
	assert.Equal(t, "3.34", shares[2].StringFixed(2))

	shares = allocate(dec("9"), []decimal.Decimal{decimal.Zero, decimal.Zero})
	assert.Equal(t, "4.50", shares[0].StringFixed(2))
	assert.Equal(t, "4.50", shares[1].StringFixed(2))
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetSettings(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpdateSettings(ctx, Settings{DefaultCurrency: "inr", DefaultExchangeRate: dec("83.25")}))
	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "INR", got.DefaultCurrency)
	assert.True(t, got.DefaultExchangeRate.Equal(dec("83.25")))

	err = s.UpdateSettings(ctx, Settings{DefaultCurrency: "EUR"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSellersAndClients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateSeller(ctx, SellerInput{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.CreateClient(ctx, ClientInput{Name: "Short GSTIN", GSTIN: "27AAP"})
	assert.ErrorIs(t, err, ErrInvalid)

	inactive := false
	zeta, err := s.CreateSeller(ctx, SellerInput{Name: "zeta"})
	require.NoError(t, err)
	alpha, err := s.CreateSeller(ctx, SellerInput{Name: "Alpha", Active: &inactive})
	require.NoError(t, err)
	assert.False(t, alpha.Active)

	sellers, err := s.ListSellers(ctx)
	require.NoError(t, err)
	require.Len(t, sellers, 2)
	assert.Equal(t, alpha.ID, sellers[0].ID)

	updated, err := s.UpdateSeller(ctx, alpha.ID, SellerInput{Name: "Alpha Gems", Phone: "555"})
	require.NoError(t, err)
	assert.True(t, updated.Active)
	assert.Equal(t, "555", updated.Phone)

	_, err = s.UpdateSeller(ctx, 999, SellerInput{Name: "Ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	in := stone("Z-1", "1", "100", "0")
	in.SellerID = &zeta.ID
	_, err = s.CreateDiamond(ctx, in)
	require.NoError(t, err)
	assert.ErrorIs(t, s.DeleteSeller(ctx, zeta.ID), ErrInUse)
	require.NoError(t, s.DeleteSeller(ctx, alpha.ID))
	_, err = s.GetSeller(ctx, alpha.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	client, err := s.CreateClient(ctx, ClientInput{Name: "Walk-in"})
	require.NoError(t, err)
	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	require.NoError(t, s.DeleteClient(ctx, client.ID))
	assert.ErrorIs(t, s.DeleteClient(ctx, client.ID), ErrNotFound)
}
