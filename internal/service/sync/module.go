package sync

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/packline/internal/marketplace"
	postingrepo "github.com/Additional-Code/packline/internal/repository/posting"
)

// Module provides the reconciler and its periodic runner to Fx.
var Module = fx.Options(
	fx.Provide(
		func(repo *postingrepo.Repository) PostingStore { return repo },
		func(client *marketplace.Client) Lister { return client },
		NewReconciler,
		NewRunner,
	),
	fx.Invoke(registerRunner),
)
