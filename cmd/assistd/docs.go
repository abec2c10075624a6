package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           assistd API
// @version         1.0
// @description     HTTP and websocket API for the voice assistant gateway.
//
// @contact.name   assistd maintainers
// @contact.url    https://github.com/your-org/assistd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
