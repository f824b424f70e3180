package importer

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/chillercrew/chillerpage_backend/utils"
)

// NOTE: These tests are intentionally DB-free. They cover the request
// validation in front of the commit transaction; the transactional
// all-or-nothing path needs MySQL and is exercised in an environment that
// can run it.

func sessionContext(clanId string, userId int) context.Context {
	ctx := utils.SetClanIdInContext(context.Background(), clanId)
	ctx = utils.SetUserIdInContext(ctx, userId)
	ctx = utils.SetUserNameInContext(ctx, "tester")
	return ctx
}

func TestPreview_RejectsForeignClanId(t *testing.T) {
	ctx := sessionContext("clan-1", 7)

	_, err := Preview(ctx, &PreviewInput{
		RawCsv: "2023-09-01,Player One,100",
		ClanId: "clan-2",
	})

	if !errors.Is(err, ErrorClanMismatch) {
		t.Fatalf("expected clan mismatch, got %v", err)
	}
}

func TestCommit_RejectsForeignClanId(t *testing.T) {
	ctx := sessionContext("clan-1", 7)

	_, err := Commit(ctx, &CommitInput{
		Entries:       []AnnotatedEntry{{ClanId: "clan-1"}},
		ClanId:        "clan-2",
		CollectedDate: "2023-09-01",
	})

	if !errors.Is(err, ErrorClanMismatch) {
		t.Fatalf("expected clan mismatch, got %v", err)
	}
}

func TestCommit_RejectsTamperedEntryClan(t *testing.T) {
	ctx := sessionContext("clan-1", 7)

	_, err := Commit(ctx, &CommitInput{
		Entries: []AnnotatedEntry{
			{ClanId: "clan-1"},
			{ClanId: "clan-2"},
		},
		ClanId:        "clan-1",
		CollectedDate: "2023-09-01",
	})

	if !errors.Is(err, ErrorClanMismatch) {
		t.Fatalf("expected clan mismatch, got %v", err)
	}
}

func TestCommit_RejectsEmptyBatch(t *testing.T) {
	ctx := sessionContext("clan-1", 7)

	_, err := Commit(ctx, &CommitInput{
		Entries:       nil,
		ClanId:        "clan-1",
		CollectedDate: "2023-09-01",
	})

	if err == nil {
		t.Fatal("expected an error for an empty batch")
	}
}

func TestCommit_RejectsMalformedCollectedDate(t *testing.T) {
	ctx := sessionContext("clan-1", 7)

	_, err := Commit(ctx, &CommitInput{
		Entries:       []AnnotatedEntry{{ClanId: "clan-1"}},
		ClanId:        "clan-1",
		CollectedDate: "01.09.2023",
	})

	if err == nil {
		t.Fatal("expected an error for a malformed collected date")
	}
}

func TestCommit_RequiresSessionClan(t *testing.T) {
	ctx := context.Background()

	_, err := Commit(ctx, &CommitInput{
		Entries:       []AnnotatedEntry{{ClanId: "clan-1"}},
		ClanId:        "clan-1",
		CollectedDate: "2023-09-01",
	})

	if err == nil {
		t.Fatal("expected an error without a session clan")
	}
}
