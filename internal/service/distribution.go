// internal/service/distribution.go
package service

import (
	"fmt"
	"sort"
	"time"

	"payout-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	bankWalletFloorCap        int64 = 5000  // $50
	emergencyFundSuggestFloor int64 = 10000 // $100
)

var (
	bankWalletFloorRate = decimal.NewFromInt(10)
	hundred             = decimal.NewFromInt(100)
)

// PlanContext is what the planner needs to know about the recipient.
type PlanContext struct {
	// Goals holds the recipient's savings goals keyed by id. A destination goal
	// missing from it, or not open, is treated as gone.
	Goals map[uuid.UUID]domain.SavingsGoal
}

func (c PlanContext) goalAvailable(id uuid.UUID) bool {
	g, ok := c.Goals[id]
	return ok && g.IsOpen()
}

// SuggestionContext is the recipient state suggestions are derived from.
type SuggestionContext struct {
	Wallet     *domain.Wallet
	Upcoming   []domain.UpcomingContribution // unreserved, inside the suggestion horizon
	Goals      []domain.SavingsGoal
	Recipients []domain.RemittanceRecipient
}

// DistributionPlanner turns a net payout and a preference into an exact allocation.
type DistributionPlanner interface {
	Plan(net int64, dest domain.PayoutDestination, pctx PlanContext) domain.Distribution
	Suggest(net int64, dist domain.Distribution, sctx SuggestionContext) []domain.Suggestion
}

type distributionPlanner struct{}

// NewDistributionPlanner creates a new instance of DistributionPlanner.
func NewDistributionPlanner() DistributionPlanner {
	return distributionPlanner{}
}

// allocator hands out a fixed amount from a running remainder.
type allocator struct {
	remaining int64
	wallet    int64
	bank      int64
	goalOrder []uuid.UUID
	goals     map[uuid.UUID]int64
}

func newAllocator(net int64) *allocator {
	if net < 0 {
		net = 0
	}
	return &allocator{remaining: net, goals: map[uuid.UUID]int64{}}
}

// take removes up to amount from the remainder and returns what was taken.
func (a *allocator) take(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	if amount > a.remaining {
		amount = a.remaining
	}
	a.remaining -= amount
	return amount
}

func (a *allocator) toGoal(id uuid.UUID, amount int64) {
	if amount <= 0 {
		return
	}
	if _, ok := a.goals[id]; !ok {
		a.goalOrder = append(a.goalOrder, id)
	}
	a.goals[id] += amount
}

func (a *allocator) distribution(mode domain.DestinationKind, bankAccount string) domain.Distribution {
	d := domain.Distribution{
		Mode:           mode,
		ToWallet:       a.wallet + a.remaining,
		ToSavingsGoals: []domain.GoalAllocation{},
	}
	for _, id := range a.goalOrder {
		d.ToSavingsGoals = append(d.ToSavingsGoals, domain.GoalAllocation{GoalID: id, Amount: a.goals[id]})
	}
	if a.bank > 0 {
		d.ToBank = &domain.BankAllocation{AccountID: bankAccount, Amount: a.bank}
	}
	return d
}

func walletOnly(net int64, reason string) domain.Distribution {
	d := newAllocator(net).distribution(domain.DestinationWallet, "")
	d.FallbackReason = reason
	return d
}

// Plan allocates net across the destination's buckets. The allocations always
// sum to net.
func (distributionPlanner) Plan(net int64, dest domain.PayoutDestination, pctx PlanContext) domain.Distribution {
	switch d := dest.(type) {
	case domain.SavingsGoalDestination:
		if !pctx.goalAvailable(d.GoalID) {
			return walletOnly(net, "savings goal unavailable")
		}
		a := newAllocator(net)
		a.toGoal(d.GoalID, a.take(net))
		return a.distribution(domain.DestinationSavingsGoal, "")

	case domain.BankDestination:
		if d.AccountID == "" {
			return walletOnly(net, "bank account missing")
		}
		a := newAllocator(net)
		floor := decimal.NewFromInt(net).Mul(bankWalletFloorRate).Div(hundred).Floor().IntPart()
		if floor > bankWalletFloorCap {
			floor = bankWalletFloorCap
		}
		a.wallet = a.take(floor)
		a.bank = a.take(a.remaining)
		return a.distribution(domain.DestinationBank, d.AccountID)

	case domain.SplitDestination:
		return planSplit(net, d.Config, pctx)

	default:
		return walletOnly(net, "")
	}
}

type percentShare struct {
	apply   func(amount int64)
	percent decimal.Decimal
}

func planSplit(net int64, cfg domain.SplitConfig, pctx PlanContext) domain.Distribution {
	a := newAllocator(net)
	var fallback string

	// pass 1: fixed amounts, savings then wallet then bank
	for _, f := range cfg.SavingsFixed {
		amount := a.take(f.Amount)
		if pctx.goalAvailable(f.GoalID) {
			a.toGoal(f.GoalID, amount)
		} else {
			a.wallet += amount
			fallback = "savings goal unavailable"
		}
	}
	a.wallet += a.take(cfg.WalletFixed)
	bankFixed := a.take(cfg.BankFixed)
	if cfg.BankAccountID != "" {
		a.bank += bankFixed
	} else {
		a.wallet += bankFixed
	}

	// pass 2: percentage shares of the residue
	var shares []percentShare
	for _, sp := range cfg.SavingsPercent {
		if !sp.Percent.IsPositive() {
			continue
		}
		goalID := sp.GoalID
		apply := func(amount int64) { a.toGoal(goalID, amount) }
		if !pctx.goalAvailable(goalID) {
			apply = func(amount int64) { a.wallet += amount }
			fallback = "savings goal unavailable"
		}
		shares = append(shares, percentShare{apply: apply, percent: sp.Percent})
	}
	if cfg.WalletPercent.IsPositive() {
		shares = append(shares, percentShare{apply: func(amount int64) { a.wallet += amount }, percent: cfg.WalletPercent})
	}
	if cfg.BankPercent.IsPositive() {
		apply := func(amount int64) { a.bank += amount }
		if cfg.BankAccountID == "" {
			apply = func(amount int64) { a.wallet += amount }
		}
		shares = append(shares, percentShare{apply: apply, percent: cfg.BankPercent})
	}

	if len(shares) > 0 && a.remaining > 0 {
		residue := a.remaining
		total := decimal.Zero
		for _, sh := range shares {
			total = total.Add(sh.percent)
		}
		for i, sh := range shares {
			var amount int64
			if i == len(shares)-1 {
				amount = a.take(a.remaining)
			} else {
				amount = a.take(decimal.NewFromInt(residue).Mul(sh.percent).Div(total).Floor().IntPart())
			}
			sh.apply(amount)
		}
	}

	d := a.distribution(domain.DestinationSplit, cfg.BankAccountID)
	d.FallbackReason = fallback
	return d
}

// Suggest returns advice ordered by ascending priority. It never changes dist.
func (distributionPlanner) Suggest(net int64, dist domain.Distribution, sctx SuggestionContext) []domain.Suggestion {
	out := []domain.Suggestion{}

	available := dist.ToWallet
	if sctx.Wallet != nil {
		available += sctx.Wallet.Available()
	}
	upcoming := append([]domain.UpcomingContribution(nil), sctx.Upcoming...)
	sort.SliceStable(upcoming, func(i, j int) bool { return upcoming[i].DueDate.Before(upcoming[j].DueDate) })
	var needed int64
	for _, c := range upcoming {
		needed += c.Amount
		if needed <= available {
			continue
		}
		circleID := c.CircleID
		out = append(out, domain.Suggestion{
			Priority:    0,
			Kind:        domain.SuggestReserveContribution,
			Title:       "Set aside your next contribution",
			Message:     fmt.Sprintf("Your contribution of %s is due %s. Keep enough in your wallet to cover it.", formatCents(c.Amount), c.DueDate.Format(time.DateOnly)),
			AmountCents: c.Amount,
			CircleID:    &circleID,
		})
	}

	hasEmergency := false
	for _, g := range sctx.Goals {
		if g.GoalType == domain.GoalTypeEmergency && g.Status != domain.GoalStatusClosed {
			hasEmergency = true
		}
		if !g.IsOpen() || !g.IsUnderfunded() {
			continue
		}
		goalID := g.ID
		gap := g.TargetAmount - g.CurrentBalance
		if gap > net {
			gap = net
		}
		out = append(out, domain.Suggestion{
			Priority:    1,
			Kind:        domain.SuggestTopUpGoal,
			Title:       "Top up " + g.Name,
			Message:     fmt.Sprintf("%s is below 90%% of its target.", g.Name),
			AmountCents: gap,
			GoalID:      &goalID,
		})
	}
	if !hasEmergency && net >= emergencyFundSuggestFloor {
		out = append(out, domain.Suggestion{
			Priority:    1,
			Kind:        domain.SuggestEmergencyFund,
			Title:       "Start an emergency fund",
			Message:     "Putting part of this payout aside helps cover unexpected costs.",
			AmountCents: net / 10,
		})
	}

	for i, r := range sctx.Recipients {
		recipientID := r.ID
		out = append(out, domain.Suggestion{
			Priority:    2 + i,
			Kind:        domain.SuggestRemittance,
			Title:       "Send money to " + r.Name,
			Message:     fmt.Sprintf("Send part of this payout to %s in %s.", r.Name, r.Country),
			RecipientID: &recipientID,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func formatCents(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}
