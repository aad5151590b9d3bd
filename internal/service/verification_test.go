// internal/service/verification_test.go
package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (f *fixture) candidate(t *testing.T, sc circleScenario) *domain.PayoutExecution {
	t.Helper()
	_, err := f.ledger.EnsureWallet(context.Background(), sc.recipient)
	require.NoError(t, err)
	return domain.NewPayoutExecution(&sc.cycle, sc.cycle.CollectedAmount, 0)
}

func TestVerify_AllChecksPass(t *testing.T) {
	f := newFixture(t)
	sc := f.seedReadyCycle(t)

	result, err := f.verifier.Verify(context.Background(), f.candidate(t, sc))
	require.NoError(t, err)

	assert.True(t, result.AllPassed)
	assert.Empty(t, result.FailureReason)
	assert.NoError(t, result.Error())
	for _, key := range domain.CheckOrder {
		assert.Contains(t, result.Checks, key)
	}
	assert.Equal(t, "50000", result.Checks[domain.CheckAmountValid].Details["gross"])
	require.NotNil(t, result.Fraud)
	assert.Equal(t, 10, result.Fraud.Score)
	assert.False(t, result.Fraud.RequiresManualReview)
}

func TestVerify_UnverifiedIdentity(t *testing.T) {
	f := newFixture(t)
	sc := f.seedReadyCycle(t)
	f.store.SetIdentity(sc.recipient, false)

	result, err := f.verifier.Verify(context.Background(), f.candidate(t, sc))
	require.NoError(t, err)

	assert.False(t, result.AllPassed)
	assert.Equal(t, domain.CheckIdentityVerified, result.FailedCheck)
	assert.Equal(t, ReasonIdentityNotVerified, result.FailureReason)

	var verr *util.VerificationError
	require.True(t, errors.As(result.Error(), &verr))
	assert.False(t, verr.FraudHold)
	assert.True(t, util.IsError(result.Error(), util.ErrVerificationFailed))
}

func TestVerify_MissingWalletFailsCheck(t *testing.T) {
	f := newFixture(t)
	sc := f.seedReadyCycle(t)
	exec := domain.NewPayoutExecution(&sc.cycle, sc.cycle.CollectedAmount, 0)

	result, err := f.verifier.Verify(context.Background(), exec)
	require.NoError(t, err)
	assert.False(t, result.AllPassed)
	assert.False(t, result.Checks[domain.CheckWalletActive].Passed)
	assert.Equal(t, ReasonWalletMissing, result.FailureReason)
}

func TestVerify_EvaluatesEveryCheck(t *testing.T) {
	f := newFixture(t)
	sc := f.seedReadyCycle(t)
	f.store.SetIdentity(sc.recipient, false)
	f.store.AddRestriction(sc.recipient, domain.RestrictionPayoutHold)
	f.store.SetCustodialBalance(testFBOAccount, 100)

	result, err := f.verifier.Verify(context.Background(), f.candidate(t, sc))
	require.NoError(t, err)

	assert.False(t, result.Checks[domain.CheckIdentityVerified].Passed)
	assert.False(t, result.Checks[domain.CheckNoRestrictions].Passed)
	assert.False(t, result.Checks[domain.CheckFBOSufficient].Passed)
	assert.True(t, result.Checks[domain.CheckCycleReady].Passed)
	assert.Equal(t, ReasonIdentityNotVerified, result.FailureReason)
}

func TestVerify_PayoutOrderAndAmount(t *testing.T) {
	f := newFixture(t)
	sc := f.seedReadyCycle(t)

	outOfTurn := sc
	outOfTurn.cycle.RecipientUserID = sc.members[1]
	f.store.SetIdentity(sc.members[1], true)
	result, err := f.verifier.Verify(context.Background(), f.candidate(t, circleScenario{cycle: outOfTurn.cycle, recipient: sc.members[1]}))
	require.NoError(t, err)
	assert.Equal(t, domain.CheckPayoutOrder, result.FailedCheck)
	assert.Equal(t, ReasonOutOfOrder, result.FailureReason)

	exec := f.candidate(t, sc)
	exec.GrossAmount = 40000
	exec.NetAmount = 40000
	result, err = f.verifier.Verify(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckAmountValid, result.FailedCheck)

	exec.GrossAmount = 54000
	exec.NetAmount = 54000
	result, err = f.verifier.Verify(context.Background(), exec)
	require.NoError(t, err)
	assert.True(t, result.Checks[domain.CheckAmountValid].Passed)
}

func TestVerify_ContributionsAreInformational(t *testing.T) {
	f := newFixture(t)
	sc := f.seedReadyCycle(t)
	f.store.PutMembership(domain.Membership{
		CircleID:       sc.circle.ID,
		UserID:         uuid.New(),
		PayoutPosition: 6,
		Status:         domain.MembershipStatusActive,
		JoinedAt:       time.Now().UTC().Add(-60 * 24 * time.Hour),
	})

	result, err := f.verifier.Verify(context.Background(), f.candidate(t, sc))
	require.NoError(t, err)

	check := result.Checks[domain.CheckContributionsComplete]
	assert.False(t, check.Passed)
	assert.False(t, check.Gating)
	assert.Equal(t, "5 of 6 contributions received", check.Message)
	assert.True(t, result.AllPassed)
}

func TestVerify_FraudScoring(t *testing.T) {
	f := newFixture(t)
	sc := f.seedReadyCycle(t)
	f.store.PutMembership(domain.Membership{
		CircleID:       sc.circle.ID,
		UserID:         sc.recipient,
		PayoutPosition: 1,
		Status:         domain.MembershipStatusActive,
		JoinedAt:       time.Now().UTC().Add(-3 * 24 * time.Hour),
	})
	f.store.AddUnresolvedDefault(sc.recipient)

	result, err := f.verifier.Verify(context.Background(), f.candidate(t, sc))
	require.NoError(t, err)

	fraud := result.Fraud
	require.NotNil(t, fraud)
	assert.Equal(t, 55, fraud.Score)
	assert.True(t, fraud.RequiresManualReview)
	assert.True(t, fraud.Passed)
	codes := []string{}
	for _, fl := range fraud.Flags {
		codes = append(codes, fl.Code)
	}
	assert.ElementsMatch(t, []string{domain.FlagFirstPayout, domain.FlagNewMembership, domain.FlagUnresolvedDefault}, codes)
	assert.True(t, result.AllPassed)
}

func TestFraudAssessment_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		flags      []string
		wantScore  int
		wantReview bool
		wantPassed bool
	}{
		{"below review", []string{domain.FlagNewMembership, domain.FlagUnresolvedDefault}, 45, false, true},
		{"review at 50", []string{domain.FlagFirstPayout, domain.FlagAmountSpike, domain.FlagUnresolvedDefault}, 50, true, true},
		{"review below hold", []string{domain.FlagUnresolvedDefault, domain.FlagUnresolvedDefault, domain.FlagAmountSpike}, 65, true, true},
		{"hold at 70", []string{domain.FlagFirstPayout, domain.FlagAmountSpike, domain.FlagNewMembership, domain.FlagUnresolvedDefault}, 70, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := domain.NewFraudAssessment()
			prev := a.Score
			for _, code := range tt.flags {
				a.Raise(code, "")
				assert.GreaterOrEqual(t, a.Score, prev)
				prev = a.Score
			}
			assert.Equal(t, tt.wantScore, a.Score)
			assert.Equal(t, tt.wantReview, a.RequiresManualReview)
			assert.Equal(t, tt.wantPassed, a.Passed)
			assert.Len(t, a.Flags, len(tt.flags))
		})
	}
}

func TestVerify_AmountSpikeAgainstHistory(t *testing.T) {
	f := newFixture(t)
	sc := f.seedReadyCycle(t)
	prior := domain.NewPayoutExecution(&sc.cycle, 20000, 0)
	prior.Status = domain.ExecutionCompleted
	prior.CycleID = sc.circle.ID // a different, finished cycle
	require.NoError(t, f.store.Executions().CreateExecution(context.Background(), f.store, prior))

	result, err := f.verifier.Verify(context.Background(), f.candidate(t, sc))
	require.NoError(t, err)
	require.Len(t, result.Fraud.Flags, 1)
	assert.Equal(t, domain.FlagAmountSpike, result.Fraud.Flags[0].Code)
	assert.Equal(t, 15, result.Fraud.Score)
}

func TestExecutePayout_ReviewQueueReceivesFlaggedPayouts(t *testing.T) {
	f := newFixture(t)
	sc := f.seedReadyCycle(t)
	f.store.AddUnresolvedDefault(sc.recipient)
	f.store.PutMembership(domain.Membership{
		CircleID:       sc.circle.ID,
		UserID:         sc.recipient,
		PayoutPosition: 1,
		Status:         domain.MembershipStatusActive,
		JoinedAt:       time.Now().UTC().Add(-24 * time.Hour),
	})

	res, err := f.payouts.ExecutePayout(context.Background(), sc.cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.Execution.Status)
	f.ops.AssertCalled(t, "EnqueueReview", mock.Anything, mock.MatchedBy(func(item domain.OpsReviewItem) bool {
		return item.Score == 55 && !item.Held && item.UserID == sc.recipient.String()
	}))
}
