// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package vote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civora/ballotcore/internal/audit"
	"github.com/civora/ballotcore/internal/credential"
	"github.com/civora/ballotcore/internal/nonce"
	"github.com/civora/ballotcore/internal/nullifier"
	"github.com/civora/ballotcore/internal/receipt"
	"github.com/civora/ballotcore/internal/store"
	"github.com/civora/ballotcore/internal/xcrypto"
)

type harness struct {
	store  *store.Store
	nonces *nonce.Store
	nulls  *nullifier.Service
	reg    *xcrypto.Registry
	signer *receipt.Signer
	chain  *audit.Chain
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	kv := store.NewKV(s)
	nonces := nonce.New(kv, nonce.TTLs{
		nonce.PurposeVote:           time.Minute,
		nonce.PurposeChallenge:      time.Minute,
		nonce.PurposeEnrollLiveness: time.Minute,
		nonce.PurposeAdminMFA:       time.Minute,
	})

	reg, err := xcrypto.New(xcrypto.VariantHMAC, []byte("test-secret"))
	require.NoError(t, err)
	nulls := nullifier.New(reg)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var privBuf bytes.Buffer
	require.NoError(t, pem.Encode(&privBuf, &pem.Block{Type: "ED25519 PRIVATE KEY", Bytes: priv}))
	var pubBuf bytes.Buffer
	require.NoError(t, pem.Encode(&pubBuf, &pem.Block{Type: "ED25519 PUBLIC KEY", Bytes: pub}))
	signer, err := receipt.NewSigner(privBuf.String(), pubBuf.String())
	require.NoError(t, err)

	chain := audit.New(s)
	engine := New(s, nonces, nulls, reg, signer, chain, 60*time.Second)

	return &harness{store: s, nonces: nonces, nulls: nulls, reg: reg, signer: signer, chain: chain, engine: engine}
}

func (h *harness) createActivePoll(t *testing.T, pollID string) {
	t.Helper()
	require.NoError(t, h.store.CreatePoll(context.Background(), store.Poll{
		ID: pollID, Title: "Referendum", Status: store.PollActive,
		MinAge: 18, Gender: "all", CreatedAt: time.Now(),
	}, []store.PollOption{
		{ID: "yes", PollID: pollID, Text: "Yes", DisplayOrder: 0},
		{ID: "no", PollID: pollID, Text: "No", DisplayOrder: 1},
	}))
}

func validCredential(subject string) credential.Credential {
	return credential.Credential{
		Issuer:  "enrollment-authority",
		Subject: subject,
		Demographics: credential.Demographics{
			AgeBucket: "25-34", Gender: "f", Region: "US-CA", Citizenship: "US",
		},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func (h *harness) freshNonce(t *testing.T) string {
	t.Helper()
	v, _, err := h.nonces.Generate(context.Background(), nonce.PurposeVote)
	require.NoError(t, err)
	return v
}

func TestSubmitAcceptsValidVote(t *testing.T) {
	h := newHarness(t)
	h.createActivePoll(t, "p1")
	ctx := context.Background()

	result, err := h.engine.Submit(ctx, Request{
		PollID: "p1", OptionID: "yes", Nonce: h.freshNonce(t), Credential: validCredential("subj-1"),
	})
	require.NoError(t, err)
	require.True(t, h.signer.Verify(result.Receipt))
	require.Equal(t, "p1", result.Receipt.Payload.PollID)
	require.NotEmpty(t, result.TxRef)
	require.Equal(t, result.Receipt.Payload.VoteID, result.TxRef, "TxRef is the vote's ids.ID string form, same opaque identifier carried in the receipt")

	root, err := h.store.GetPollRoot(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(1), root.LeafCount)
}

func TestSubmitRejectsReusedNullifier(t *testing.T) {
	h := newHarness(t)
	h.createActivePoll(t, "p1")
	ctx := context.Background()

	_, err := h.engine.Submit(ctx, Request{
		PollID: "p1", OptionID: "yes", Nonce: h.freshNonce(t), Credential: validCredential("subj-1"),
	})
	require.NoError(t, err)

	_, err = h.engine.Submit(ctx, Request{
		PollID: "p1", OptionID: "no", Nonce: h.freshNonce(t), Credential: validCredential("subj-1"),
	})
	code, ok := AsCode(err)
	require.True(t, ok)
	require.Equal(t, CodeAlreadyVoted, code)
}

func TestSubmitRejectsReusedNonce(t *testing.T) {
	h := newHarness(t)
	h.createActivePoll(t, "p1")
	ctx := context.Background()
	n := h.freshNonce(t)

	_, err := h.engine.Submit(ctx, Request{PollID: "p1", OptionID: "yes", Nonce: n, Credential: validCredential("subj-1")})
	require.NoError(t, err)

	_, err = h.engine.Submit(ctx, Request{PollID: "p1", OptionID: "yes", Nonce: n, Credential: validCredential("subj-2")})
	code, ok := AsCode(err)
	require.True(t, ok)
	require.Equal(t, CodeNonceInvalid, code)
}

func TestSubmitRejectsInvalidOption(t *testing.T) {
	h := newHarness(t)
	h.createActivePoll(t, "p1")
	ctx := context.Background()

	_, err := h.engine.Submit(ctx, Request{
		PollID: "p1", OptionID: "nonexistent", Nonce: h.freshNonce(t), Credential: validCredential("subj-1"),
	})
	code, ok := AsCode(err)
	require.True(t, ok)
	require.Equal(t, CodeOptionInvalid, code)
}

func TestSubmitRejectsInactivePoll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.CreatePoll(ctx, store.Poll{
		ID: "p1", Title: "Draft poll", Status: store.PollDraft, CreatedAt: time.Now(),
	}, []store.PollOption{{ID: "yes", PollID: "p1", Text: "Yes"}}))

	_, err := h.engine.Submit(ctx, Request{
		PollID: "p1", OptionID: "yes", Nonce: h.freshNonce(t), Credential: validCredential("subj-1"),
	})
	code, ok := AsCode(err)
	require.True(t, ok)
	require.Equal(t, CodePollInactive, code)
}

func TestSubmitRejectsIneligibleVoter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.CreatePoll(ctx, store.Poll{
		ID: "p1", Title: "Over 65 only", Status: store.PollActive, MinAge: 65, CreatedAt: time.Now(),
	}, []store.PollOption{{ID: "yes", PollID: "p1", Text: "Yes"}}))

	_, err := h.engine.Submit(ctx, Request{
		PollID: "p1", OptionID: "yes", Nonce: h.freshNonce(t), Credential: validCredential("subj-1"),
	})
	code, ok := AsCode(err)
	require.True(t, ok)
	require.Equal(t, CodeIneligible, code)
}

func TestSubmitRejectsNullifierMismatch(t *testing.T) {
	h := newHarness(t)
	h.createActivePoll(t, "p1")
	ctx := context.Background()

	_, err := h.engine.Submit(ctx, Request{
		PollID: "p1", OptionID: "yes", ClaimedNullifier: "bogus", Nonce: h.freshNonce(t),
		Credential: validCredential("subj-1"),
	})
	code, ok := AsCode(err)
	require.True(t, ok)
	require.Equal(t, CodeNullifierMismatch, code)
}

func TestSubmitAcceptsMatchingClaimedNullifier(t *testing.T) {
	h := newHarness(t)
	h.createActivePoll(t, "p1")
	ctx := context.Background()

	derived := h.nulls.Compute("subj-1", "p1")
	_, err := h.engine.Submit(ctx, Request{
		PollID: "p1", OptionID: "yes", ClaimedNullifier: derived, Nonce: h.freshNonce(t),
		Credential: validCredential("subj-1"),
	})
	require.NoError(t, err)
}

func TestRootAdvancesAcrossMultipleVotes(t *testing.T) {
	h := newHarness(t)
	h.createActivePoll(t, "p1")
	ctx := context.Background()

	for i, subj := range []string{"subj-1", "subj-2", "subj-3"} {
		_, err := h.engine.Submit(ctx, Request{
			PollID: "p1", OptionID: "yes", Nonce: h.freshNonce(t), Credential: validCredential(subj),
		})
		require.NoError(t, err, "vote %d", i)
	}

	root, err := h.store.GetPollRoot(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(3), root.LeafCount)
}

func TestAuditChainRecordsAcceptedAndDuplicateVotes(t *testing.T) {
	h := newHarness(t)
	h.createActivePoll(t, "p1")
	ctx := context.Background()

	_, err := h.engine.Submit(ctx, Request{
		PollID: "p1", OptionID: "yes", Nonce: h.freshNonce(t), Credential: validCredential("subj-1"),
	})
	require.NoError(t, err)
	_, err = h.engine.Submit(ctx, Request{
		PollID: "p1", OptionID: "yes", Nonce: h.freshNonce(t), Credential: validCredential("subj-1"),
	})
	require.Error(t, err)

	require.NoError(t, h.chain.Verify(ctx))
	entries, err := h.store.ListAuditEntries(ctx)
	require.NoError(t, err)

	var kinds []string
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, string(audit.KindVoteAccepted))
	require.Contains(t, kinds, string(audit.KindVoteRejectedDuplicate))
}
