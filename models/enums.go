package models

import "errors"

type UserRole string

const (
	UserRoleAdmin  UserRole = "A"
	UserRoleOwner  UserRole = "O"
	UserRoleCustom UserRole = "C"
)

func (t *UserRole) Parse(str string) error {
	switch str {
	case "A":
		*t = UserRoleAdmin
	case "O":
		*t = UserRoleOwner
	case "C":
		*t = UserRoleCustom
	default:
		return errors.New("invalid user role")
	}
	return nil
}

type MemberRank string

const (
	MemberRankLeader   MemberRank = "Leader"
	MemberRankOfficer  MemberRank = "Officer"
	MemberRankVeteran  MemberRank = "Veteran"
	MemberRankSoldier  MemberRank = "Soldier"
	MemberRankRecruit  MemberRank = "Recruit"
	MemberRankInactive MemberRank = "Inactive"
)

func (t *MemberRank) Parse(str string) error {
	memberRanks := map[string]MemberRank{
		"Leader":   MemberRankLeader,
		"Officer":  MemberRankOfficer,
		"Veteran":  MemberRankVeteran,
		"Soldier":  MemberRankSoldier,
		"Recruit":  MemberRankRecruit,
		"Inactive": MemberRankInactive,
	}
	v, ok := memberRanks[str]
	if !ok {
		return errors.New("invalid member rank")
	}
	*t = v
	return nil
}

type NotificationKind string

const (
	NotificationKindImportCommitted NotificationKind = "ImportCommitted"
	NotificationKindArticlePosted   NotificationKind = "ArticlePosted"
	NotificationKindEventCreated    NotificationKind = "EventCreated"
	NotificationKindMessageReceived NotificationKind = "MessageReceived"
	NotificationKindMemberJoined    NotificationKind = "MemberJoined"
)

type EventStatus string

const (
	EventStatusScheduled EventStatus = "Scheduled"
	EventStatusOngoing   EventStatus = "Ongoing"
	EventStatusFinished  EventStatus = "Finished"
	EventStatusCancelled EventStatus = "Cancelled"
)

func (t *EventStatus) Parse(str string) error {
	switch str {
	case "Scheduled":
		*t = EventStatusScheduled
	case "Ongoing":
		*t = EventStatusOngoing
	case "Finished":
		*t = EventStatusFinished
	case "Cancelled":
		*t = EventStatusCancelled
	default:
		return errors.New("invalid event status")
	}
	return nil
}

// Rule engine columns a rule may target on a draft entry.
const (
	RuleColumnPlayer    = "player"
	RuleColumnChestType = "chestType"
	RuleColumnDate      = "date"
	RuleColumnLevel     = "level"
	RuleColumnRawScore  = "rawScore"
)

func IsValidRuleColumn(column string) bool {
	switch column {
	case RuleColumnPlayer, RuleColumnChestType, RuleColumnDate, RuleColumnLevel, RuleColumnRawScore:
		return true
	}
	return false
}
