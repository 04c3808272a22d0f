// Package bridge exposes the notification service to a local embedding host
// as JSON over HTTP on a unix socket.
//
// Routes:
//
//	POST   /v1/permission/ingress          record requester, answer check
//	POST   /v1/permission/decision         answer check
//	POST   /v1/notifications               display (202)
//	DELETE /v1/notifications/:id           close (202)
//	POST   /v1/notifications/persistent    no-op (202)
//	DELETE /v1/notifications/persistent/:id no-op (202)
//	GET    /v1/notifications               displayed ids (always none)
//	POST   /v1/notifications/:id/click     headless presenter only
//	PUT    /v1/requesters/:id/tab          map requester to tab
//	DELETE /v1/requesters/:id/tab
//	GET    /v1/events                      script events (server-sent events)
//	GET    /v1/health
package bridge
