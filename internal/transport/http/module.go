package http

import (
	"go.uber.org/fx"

	assemblytransport "github.com/Additional-Code/packline/internal/transport/http/assembly"
	assignmenttransport "github.com/Additional-Code/packline/internal/transport/http/assignment"
	postingtransport "github.com/Additional-Code/packline/internal/transport/http/posting"
	shipmenttransport "github.com/Additional-Code/packline/internal/transport/http/shipment"
	synctransport "github.com/Additional-Code/packline/internal/transport/http/sync"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	postingtransport.Module,
	synctransport.Module,
	assignmenttransport.Module,
	assemblytransport.Module,
	shipmenttransport.Module,
)
