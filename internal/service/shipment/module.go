package shipment

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/packline/internal/marketplace"
	postingrepo "github.com/Additional-Code/packline/internal/repository/posting"
)

// Module provides the shipment service to Fx.
var Module = fx.Provide(
	func(repo *postingrepo.Repository) PostingStore { return repo },
	func(client *marketplace.Client) Marketplace { return client },
	NewService,
)
