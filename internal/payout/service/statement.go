package service

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	payoutdomain "github.com/smallbiznis/marketledger/internal/payout/domain"
)

// Statement renders a remittance PDF listing every transaction in the payout.
func (s *Service) Statement(ctx context.Context, id snowflake.ID) (io.Reader, error) {
	payout, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return renderStatement(payout)
}

func renderStatement(payout *payoutdomain.Payout) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Payout statement", props.Text{Size: 18, Style: fontstyle.Bold, Align: align.Left}),
		text.NewCol(4, string(payout.Status), props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right}),
	)

	details := col.New(6).Add(text.New("Currency: "+payout.Currency, props.Text{Top: 0}))
	if payout.TransferRef != nil {
		details.Add(text.New("Transfer: "+*payout.TransferRef, props.Text{Top: 5}))
	}
	if payout.FailureReason != "" {
		details.Add(text.New("Note: "+payout.FailureReason, props.Text{Top: 10}))
	}

	m.AddRow(24,
		col.New(6).Add(
			text.New("Reference: "+payout.Reference, props.Text{Top: 0}),
			text.New("Practitioner: "+payout.PractitionerID.String(), props.Text{Top: 5}),
			text.New("Created: "+payout.CreatedAt.Format("2006-01-02 15:04 MST"), props.Text{Top: 10}),
		),
		details,
	)

	head := props.Text{Style: fontstyle.Bold, Size: 9}
	headRight := props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}
	m.AddRow(10,
		text.NewCol(6, "Earnings transaction", head),
		text.NewCol(2, "Gross", headRight),
		text.NewCol(2, "Commission", headRight),
		text.NewCol(2, "Net", headRight),
	)

	cell := props.Text{Size: 9}
	cellRight := props.Text{Size: 9, Align: align.Right}
	for _, item := range payout.Items {
		m.AddRow(8,
			text.NewCol(6, item.TransactionID.String(), cell),
			text.NewCol(2, formatMoney(item.Gross, payout.Currency), cellRight),
			text.NewCol(2, formatMoney(item.Commission, payout.Currency), cellRight),
			text.NewCol(2, formatMoney(item.Net, payout.Currency), cellRight),
		)
	}

	m.AddRow(10,
		text.NewCol(6, "Total", head),
		text.NewCol(2, formatMoney(payout.Gross, payout.Currency), headRight),
		text.NewCol(2, formatMoney(payout.Commission, payout.Currency), headRight),
		text.NewCol(2, formatMoney(payout.Amount, payout.Currency), headRight),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render payout statement: %w", err)
	}
	return bytes.NewReader(doc.GetBytes()), nil
}

// formatMoney prints minor units with two decimals.
func formatMoney(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%s %d.%02d", sign, currency, minor/100, minor%100)
}
