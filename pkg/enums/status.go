package enums

// RecordStatus is shared by organizations and organization members.
type RecordStatus string

const (
	RecordStatusActive   RecordStatus = "active"
	RecordStatusInactive RecordStatus = "inactive"
)

func (s RecordStatus) String() string { return string(s) }

func (s RecordStatus) IsValid() bool {
	return s == RecordStatusActive || s == RecordStatusInactive
}

func ParseRecordStatus(value string) (RecordStatus, error) {
	return parse[RecordStatus](value, "status")
}

// SubscriptionStatus tracks a customer's plan subscription. Canceled is final.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

func (s SubscriptionStatus) String() string { return string(s) }

func (s SubscriptionStatus) IsValid() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusCanceled
}

func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	return parse[SubscriptionStatus](value, "subscription status")
}
