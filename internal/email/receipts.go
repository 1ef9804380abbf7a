package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/sharepool/internal/ledger"
	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/money"
)

const receiptQueueSize = 256

type sender interface {
	Send(ctx context.Context, msg Message) error
}

type accountGetter interface {
	GetByID(ctx context.Context, id int64) (*model.Account, error)
}

type listingGetter interface {
	GetByID(ctx context.Context, id int64) (*model.Listing, error)
}

// ReceiptNotifier mails purchase and top-up receipts. Observe only queues;
// Run does the lookups and sending.
type ReceiptNotifier struct {
	sender   sender
	accounts accountGetter
	listings listingGetter
	logger   *slog.Logger
	queue    chan ledger.Event
}

func NewReceiptNotifier(s sender, accounts accountGetter, listings listingGetter, logger *slog.Logger) *ReceiptNotifier {
	return &ReceiptNotifier{
		sender:   s,
		accounts: accounts,
		listings: listings,
		logger:   logger,
		queue:    make(chan ledger.Event, receiptQueueSize),
	}
}

func (n *ReceiptNotifier) Observe(e ledger.Event) {
	switch e.Kind {
	case ledger.EventSettlement:
		if e.Grant == nil {
			return
		}
	case ledger.EventTopup, ledger.EventAdjustment:
		if e.Entry == nil || e.Entry.Status == model.EntryPending {
			return
		}
	default:
		return
	}

	select {
	case n.queue <- e:
	default:
		n.logger.Warn("receipt queue full, dropping", "kind", e.Kind, "account", e.AccountID)
	}
}

// Run sends queued receipts until ctx is cancelled.
func (n *ReceiptNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.queue:
			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := n.deliver(sendCtx, e); err != nil {
				n.logger.Error("send receipt", "kind", e.Kind, "account", e.AccountID, "error", err)
			}
			cancel()
		}
	}
}

func (n *ReceiptNotifier) deliver(ctx context.Context, e ledger.Event) error {
	msgs, err := n.messages(ctx, e)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := n.sender.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (n *ReceiptNotifier) messages(ctx context.Context, e ledger.Event) ([]Message, error) {
	switch e.Kind {
	case ledger.EventSettlement:
		return n.settlementMessages(ctx, e.Grant)
	case ledger.EventTopup:
		return n.topupMessages(ctx, e.Entry)
	case ledger.EventAdjustment:
		return n.adjustmentMessages(ctx, e.Entry)
	}
	return nil, nil
}

func (n *ReceiptNotifier) settlementMessages(ctx context.Context, g *model.Grant) ([]Message, error) {
	listing, err := n.listings.GetByID(ctx, g.ListingID)
	if err != nil {
		return nil, fmt.Errorf("load listing %d: %w", g.ListingID, err)
	}
	if listing == nil {
		return nil, fmt.Errorf("listing %d not found", g.ListingID)
	}

	var msgs []Message
	buyer, err := n.accounts.GetByID(ctx, g.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("load buyer %d: %w", g.BuyerID, err)
	}
	if buyer != nil {
		msgs = append(msgs, Message{
			To:      buyer.Email,
			Subject: fmt.Sprintf("Receipt: %s access", listing.ServiceName),
			TextBody: fmt.Sprintf(
				"You bought %d hours of access to %q.\n\nCharged: %s\nReference: %s\nAccess ends: %s\n",
				g.Hours, listing.Title, money.Format(g.Price), g.Reference, g.EndAt.UTC().Format(time.RFC1123),
			),
		})
	}

	owner, err := n.accounts.GetByID(ctx, listing.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load owner %d: %w", listing.OwnerID, err)
	}
	if owner != nil {
		earned := g.Price.Sub(g.Commission)
		msgs = append(msgs, Message{
			To:      owner.Email,
			Subject: fmt.Sprintf("You made a sale on %q", listing.Title),
			TextBody: fmt.Sprintf(
				"Someone bought %d hours of access to %q.\n\nSale: %s\nCommission: %s\nCredited to you: %s\nReference: %s\n",
				g.Hours, listing.Title, money.Format(g.Price), money.Format(g.Commission), money.Format(earned), g.Reference,
			),
		})
	}
	return msgs, nil
}

func (n *ReceiptNotifier) topupMessages(ctx context.Context, entry *model.LedgerEntry) ([]Message, error) {
	if entry.Category != model.CategoryTopup {
		return nil, nil
	}
	account, err := n.accounts.GetByID(ctx, entry.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", entry.AccountID, err)
	}
	if account == nil {
		return nil, nil
	}

	amount := money.Format(entry.Amount)
	var msg Message
	switch entry.Status {
	case model.EntryCompleted:
		msg = Message{
			Subject:  "Your top-up was credited",
			TextBody: fmt.Sprintf("%s was added to your wallet (top-up #%d).\n", amount, entry.ID),
		}
	case model.EntryFailed:
		body := fmt.Sprintf("Your top-up of %s (#%d) was not approved.\n", amount, entry.ID)
		if entry.Note != "" {
			body += "\nReason: " + entry.Note + "\n"
		}
		msg = Message{Subject: "Your top-up was declined", TextBody: body}
	default:
		return nil, nil
	}
	msg.To = account.Email
	return []Message{msg}, nil
}

// adjustmentMessages describes an admin correction by its sign. Debits are
// journaled with a negative amount.
func (n *ReceiptNotifier) adjustmentMessages(ctx context.Context, entry *model.LedgerEntry) ([]Message, error) {
	if entry.Status != model.EntryCompleted || entry.Amount.IsZero() {
		return nil, nil
	}
	account, err := n.accounts.GetByID(ctx, entry.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", entry.AccountID, err)
	}
	if account == nil {
		return nil, nil
	}

	msg := Message{To: account.Email}
	if entry.Amount.IsNegative() {
		msg.Subject = "Your balance was debited"
		msg.TextBody = fmt.Sprintf("An administrator debited %s from your wallet (entry #%d).\n", money.Format(entry.Amount.Abs()), entry.ID)
	} else {
		msg.Subject = "Your balance was credited"
		msg.TextBody = fmt.Sprintf("An administrator credited %s to your wallet (entry #%d).\n", money.Format(entry.Amount), entry.ID)
	}
	if entry.Note != "" {
		msg.TextBody += "\nReason: " + entry.Note + "\n"
	}
	return []Message{msg}, nil
}
