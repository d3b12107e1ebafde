package assembly

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/packline/internal/inventory"
	"github.com/Additional-Code/packline/internal/labelstore"
	"github.com/Additional-Code/packline/internal/marketplace"
	postingrepo "github.com/Additional-Code/packline/internal/repository/posting"
)

// Module provides the matcher and assembly service to Fx.
var Module = fx.Provide(
	func(client *inventory.Client) CodeSource { return client },
	func(repo *postingrepo.Repository) PostingStore { return repo },
	func(client *marketplace.Client) LabelSource { return client },
	func(store *labelstore.Store) LabelStore { return store },
	NewMatcher,
	NewService,
)
