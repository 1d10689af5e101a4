package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           glayoutd API
// @version         1.0
// @description     HTTP API for conversational layout-generation sessions over fine-tuned LLMs.
//
// @contact.name   glayoutd maintainers
// @contact.url    https://github.com/your-org/glayoutd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
