package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// keyedHandlers builds repository handlers for records keyed by a single
// string column. Non-UUID keys report uuid.Nil and are looked up by column.
func keyedHandlers[T any](column string, newRecord func() T, key func(T) *string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			ptr := key(record)
			if ptr == nil {
				return uuid.Nil
			}
			return parseUUID(*ptr)
		},
		SetID: func(record T, id uuid.UUID) {
			if ptr := key(record); ptr != nil {
				*ptr = id.String()
			}
		},
		GetIdentifier: func() string {
			return column
		},
		GetIdentifierValue: func(record T) string {
			ptr := key(record)
			if ptr == nil {
				return ""
			}
			return strings.TrimSpace(*ptr)
		},
	}
}

func oauthClientHandlers() repository.ModelHandlers[*oauthClientRecord] {
	return keyedHandlers("client_id",
		func() *oauthClientRecord { return &oauthClientRecord{} },
		func(r *oauthClientRecord) *string {
			if r == nil {
				return nil
			}
			return &r.ClientID
		},
	)
}

func webhookSubscriptionHandlers() repository.ModelHandlers[*webhookSubscriptionRecord] {
	return keyedHandlers("id",
		func() *webhookSubscriptionRecord { return &webhookSubscriptionRecord{} },
		func(r *webhookSubscriptionRecord) *string {
			if r == nil {
				return nil
			}
			return &r.ID
		},
	)
}

func deliveryLogHandlers() repository.ModelHandlers[*deliveryLogRecord] {
	return keyedHandlers("id",
		func() *deliveryLogRecord { return &deliveryLogRecord{} },
		func(r *deliveryLogRecord) *string {
			if r == nil {
				return nil
			}
			return &r.ID
		},
	)
}

func notificationDispatchHandlers() repository.ModelHandlers[*notificationDispatchRecord] {
	return keyedHandlers("id",
		func() *notificationDispatchRecord { return &notificationDispatchRecord{} },
		func(r *notificationDispatchRecord) *string {
			if r == nil {
				return nil
			}
			return &r.ID
		},
	)
}

func transactionHandlers() repository.ModelHandlers[*transactionRecord] {
	return keyedHandlers("id",
		func() *transactionRecord { return &transactionRecord{} },
		func(r *transactionRecord) *string {
			if r == nil {
				return nil
			}
			return &r.ID
		},
	)
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
