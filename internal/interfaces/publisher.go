package interfaces

import (
	"context"

	"multiverse-server/internal/models"
)

// InstanceEventPublisher отправляет события экземпляров подписчикам.
//
//go:generate mockery --name InstanceEventPublisher --output ./mocks --outpkg mocks --case=underscore
type InstanceEventPublisher interface {
	PublishInstanceUpdate(ctx context.Context, update models.InstanceUpdate) error
}
