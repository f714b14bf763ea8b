package main

// General API documentation for swaggo. Run `swag init -g cmd/lorad/docs.go`
// to generate docs.
//
// @title           lorad API
// @version         1.0
// @description     HTTP API for on-device LoRA fine-tuning and text generation.
//
// @contact.name   lorad maintainers
// @contact.url    https://github.com/your-org/lorad
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
