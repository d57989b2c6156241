package main

func main() {
	app := mustBootstrapJobDeskAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !isCanceled(err) {
		panic(err)
	}
}
