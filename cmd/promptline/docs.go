package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           promptline API
// @version         1.0
// @description     Control API for context assembly and streamed generation against LLM backends.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
