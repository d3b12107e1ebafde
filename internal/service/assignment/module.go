package assignment

import (
	"go.uber.org/fx"

	postingrepo "github.com/Additional-Code/packline/internal/repository/posting"
)

// Module provides the assignment service to Fx.
var Module = fx.Provide(
	func(repo *postingrepo.Repository) PostingStore { return repo },
	NewService,
)
