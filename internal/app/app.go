package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/packline/internal/cache"
	"github.com/Additional-Code/packline/internal/config"
	"github.com/Additional-Code/packline/internal/database"
	"github.com/Additional-Code/packline/internal/inventory"
	"github.com/Additional-Code/packline/internal/labelstore"
	"github.com/Additional-Code/packline/internal/logger"
	"github.com/Additional-Code/packline/internal/marketplace"
	"github.com/Additional-Code/packline/internal/messaging"
	"github.com/Additional-Code/packline/internal/observability"
	repositoryposting "github.com/Additional-Code/packline/internal/repository/posting"
	repositoryuser "github.com/Additional-Code/packline/internal/repository/user"
	grpcserver "github.com/Additional-Code/packline/internal/server/grpc"
	httpserver "github.com/Additional-Code/packline/internal/server/http"
	serviceassembly "github.com/Additional-Code/packline/internal/service/assembly"
	serviceassignment "github.com/Additional-Code/packline/internal/service/assignment"
	serviceposting "github.com/Additional-Code/packline/internal/service/posting"
	serviceshipment "github.com/Additional-Code/packline/internal/service/shipment"
	servicesync "github.com/Additional-Code/packline/internal/service/sync"
	transporthttp "github.com/Additional-Code/packline/internal/transport/http"
	"github.com/Additional-Code/packline/internal/worker"
	workerassembly "github.com/Additional-Code/packline/internal/worker/assembly"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	marketplace.Module,
	inventory.Module,
	labelstore.Module,
	repositoryposting.Module,
	repositoryuser.Module,
	serviceposting.Module,
	servicesync.Module,
	serviceassignment.Module,
	serviceassembly.Module,
	serviceshipment.Module,
)

// HTTP wires the HTTP transport on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerassembly.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
